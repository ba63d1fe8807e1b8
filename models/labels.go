package models

import "fmt"

// LabelSet identifies the dataset a detector's class axis was trained on.
type LabelSet string

const (
	// LabelSetCOCO is the 80 COCO classes without background.
	LabelSetCOCO LabelSet = "coco"
	// LabelSetVOC is the 20 Pascal VOC classes without background.
	LabelSetVOC LabelSet = "voc"
)

// Labels holds the class names of a label set, indexed by the position of the
// class score in the detector output.
type Labels struct {
	// Set identifies the label set.
	Set LabelSet
	// Names are the zero-based class names.
	Names []string
}

// Name returns the class name for idx, or "class_<idx>" when idx is out of range.
func (l Labels) Name(idx int) string {
	if idx < 0 || idx >= len(l.Names) {
		return fmt.Sprintf("class_%d", idx)
	}
	return l.Names[idx]
}

// Len returns the number of classes.
func (l Labels) Len() int {
	return len(l.Names)
}

// COCOLabels are the 80 COCO classes in YOLO order.
var COCOLabels = Labels{
	Set: LabelSetCOCO,
	Names: []string{
		"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
		"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
		"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
		"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
		"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
		"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
		"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
		"keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
		"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
	},
}

// VOCLabels are the 20 Pascal VOC classes.
var VOCLabels = Labels{
	Set: LabelSetVOC,
	Names: []string{
		"aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat", "chair", "cow",
		"diningtable", "dog", "horse", "motorbike", "person", "pottedplant", "sheep", "sofa",
		"train", "tvmonitor",
	},
}

// LookupLabels returns the labels registered for set.
func LookupLabels(set LabelSet) (Labels, error) {
	switch set {
	case LabelSetCOCO:
		return COCOLabels, nil
	case LabelSetVOC:
		return VOCLabels, nil
	default:
		return Labels{}, fmt.Errorf("unsupported label set: %s", set)
	}
}

// LabelsFor returns the known label set with nbClass classes, or empty labels
// whose Name falls back to "class_<idx>".
func LabelsFor(nbClass int) Labels {
	for _, l := range []Labels{COCOLabels, VOCLabels} {
		if l.Len() == nbClass {
			return l
		}
	}
	return Labels{}
}
