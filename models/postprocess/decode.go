package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/images"
	"github.com/nvr-ai/go-yolov2/models/model"
)

// ErrGrid is returned for prediction grids that do not match the decoder
// configuration.
var ErrGrid = errors.New("invalid prediction grid")

// DefaultAnchors are the YOLOv2 VOC anchor boxes as (width, height) pairs in
// grid cells.
var DefaultAnchors = []float32{
	1.3221, 1.73145,
	3.19275, 4.00944,
	5.05587, 8.09892,
	9.47112, 4.84053,
	11.2364, 10.0071,
}

// Config controls grid decoding.
type Config struct {
	// ScoreThreshold drops detections scoring below it.
	ScoreThreshold float32 `koanf:"scorethreshold" json:"score_threshold" yaml:"score_threshold"`
	// IoUThreshold is the NMS overlap threshold.
	IoUThreshold float32 `koanf:"iouthreshold" json:"iou_threshold" yaml:"iou_threshold"`
	// ClassAware limits suppression to boxes of the same class.
	ClassAware bool `koanf:"classaware" json:"class_aware" yaml:"class_aware"`
	// Anchors are (width, height) pairs in grid cells, one pair per box.
	Anchors []float32 `koanf:"anchors" json:"anchors" yaml:"anchors"`
	// InputSize is the network input side length in pixels.
	InputSize int `koanf:"inputsize" json:"input_size" yaml:"input_size"`
}

// DefaultConfig returns the decoder defaults.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold: 0.3,
		IoUThreshold:   0.45,
		ClassAware:     true,
		Anchors:        append([]float32(nil), DefaultAnchors...),
		InputSize:      model.InputSize,
	}
}

// Validate checks the configuration for a detector with nbBox anchors.
func (c Config) Validate(nbBox int) error {
	if len(c.Anchors) != 2*nbBox {
		return errors.Wrapf(ErrGrid, "%d anchor values for %d boxes, want %d", len(c.Anchors), nbBox, 2*nbBox)
	}
	if c.InputSize <= 0 {
		return errors.Errorf("invalid input size %d", c.InputSize)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold %v outside [0, 1]", c.IoUThreshold)
	}
	return nil
}

// Decode turns an (N, nb_box, 5+nb_class, H, W) prediction grid into
// detections, one slice per batch item.
//
// For cell (cx, cy) and anchor (aw, ah) the box center is
// ((sigmoid(tx)+cx)/W, (sigmoid(ty)+cy)/H) and its size
// (aw*exp(tw)/W, ah*exp(th)/H), in units of the input size. The score is
// sigmoid(to) times the largest softmax class probability. Detections below
// the score threshold are dropped and the rest sorted and filtered with
// greedy NMS.
//
// Arguments:
//   - grid: The detector output.
//   - cfg: The decoder configuration.
//
// Returns:
//   - [][]Result: Detections per batch item, highest score first, with boxes
//     in input pixels clamped to the input.
//   - error: ErrGrid if the grid does not match cfg.
func Decode(grid *tensor.Dense, cfg Config) ([][]Result, error) {
	shape := grid.Shape()
	if shape.Dims() != 5 {
		return nil, errors.Wrapf(ErrGrid, "expected (batch, boxes, attributes, H, W), got %v", shape)
	}
	if grid.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrGrid, "expected float32, got %v", grid.Dtype())
	}
	batch, nbBox, attrs, gh, gw := shape[0], shape[1], shape[2], shape[3], shape[4]
	if attrs <= model.BoxAttributes {
		return nil, errors.Wrapf(ErrGrid, "%d attributes leave no class scores", attrs)
	}
	if err := cfg.Validate(nbBox); err != nil {
		return nil, err
	}

	if grid.IsView() {
		grid = grid.Materialize().(*tensor.Dense)
	}
	data := grid.Float32s()
	nbClass := attrs - model.BoxAttributes
	cells := gh * gw
	size := float32(cfg.InputSize)
	probs := make([]float32, nbClass)

	out := make([][]Result, batch)
	for n := 0; n < batch; n++ {
		var found []Result
		for b := 0; b < nbBox; b++ {
			base := (n*nbBox + b) * attrs * cells
			aw, ah := cfg.Anchors[2*b], cfg.Anchors[2*b+1]
			for cy := 0; cy < gh; cy++ {
				for cx := 0; cx < gw; cx++ {
					at := func(a int) float32 { return data[base+a*cells+cy*gw+cx] }

					objectness := sigmoid(at(4))
					for c := range probs {
						probs[c] = at(model.BoxAttributes + c)
					}
					class, p := softmaxArgmax(probs)
					score := objectness * p
					if score < cfg.ScoreThreshold {
						continue
					}

					x := (sigmoid(at(0)) + float32(cx)) / float32(gw)
					y := (sigmoid(at(1)) + float32(cy)) / float32(gh)
					w := aw * math32.Exp(at(2)) / float32(gw)
					h := ah * math32.Exp(at(3)) / float32(gh)

					box := images.Rect{
						X1: (x - w/2) * size,
						Y1: (y - h/2) * size,
						X2: (x + w/2) * size,
						Y2: (y + h/2) * size,
					}
					found = append(found, Result{
						Box:    box.Clamp(size, size),
						Score:  score,
						Class:  class,
						Anchor: b,
					})
				}
			}
		}
		SortByScore(found)
		out[n] = ApplyGreedyNMS(found, &NMSConfig{IoUThreshold: cfg.IoUThreshold, ClassAware: cfg.ClassAware})
	}
	return out, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// softmaxArgmax returns the index and softmax probability of the largest logit.
func softmaxArgmax(logits []float32) (int, float32) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float32
	for _, v := range logits {
		sum += math32.Exp(v - logits[best])
	}
	return best, 1 / sum
}
