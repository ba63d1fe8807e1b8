package detector

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Layout tells Normalize where the channel axis is.
type Layout int

const (
	// LayoutCHW has channels third from last: (C, H, W) or (N, C, H, W).
	LayoutCHW Layout = iota
	// LayoutHWC has channels last: (H, W, C) or (N, H, W, C).
	LayoutHWC
)

// ImageNet per-channel statistics in RGB order.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Normalize prepares a [0, 255] RGB image tensor for the detector.
//
// The tensor is scaled to [0, 1], standardized with the mean and unbiased
// standard deviation of the whole tensor (not per channel), and then mapped
// per channel to x*ImageNetStd[c] + ImageNetMean[c].
//
// When the standard deviation is zero, as for a constant image or a single
// element, every standardized value is 0 and the output holds the channel
// means.
//
// Arguments:
//   - img: A float32 tensor whose channel axis has length 3.
//   - layout: Where the channel axis is.
//
// Returns:
//   - *tensor.Dense: A new tensor with the same shape; img is not modified.
//   - error: ErrShape if img is not float32 or has no 3-channel axis.
func Normalize(img *tensor.Dense, layout Layout) (*tensor.Dense, error) {
	shape := img.Shape()
	if img.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShape, "normalize expects float32, got %v", img.Dtype())
	}

	var channelOf func(i int) int
	switch layout {
	case LayoutHWC:
		if shape.Dims() < 3 || shape[shape.Dims()-1] != 3 {
			return nil, errors.Wrapf(ErrShape, "normalize expects (..., H, W, 3), got %v", shape)
		}
		channelOf = func(i int) int { return i % 3 }
	case LayoutCHW:
		if shape.Dims() < 3 || shape[shape.Dims()-3] != 3 {
			return nil, errors.Wrapf(ErrShape, "normalize expects (..., 3, H, W), got %v", shape)
		}
		plane := shape[shape.Dims()-2] * shape[shape.Dims()-1]
		channelOf = func(i int) int { return (i / plane) % 3 }
	default:
		return nil, errors.Errorf("unknown layout %d", layout)
	}

	out := img.Clone().(*tensor.Dense)
	if out.IsView() {
		out = out.Materialize().(*tensor.Dense)
	}
	data := out.Float32s()
	n := len(data)
	if n == 0 {
		return out, nil
	}

	var sum float64
	for i := range data {
		data[i] /= 255
		sum += float64(data[i])
	}
	mean := sum / float64(n)

	var variance float64
	if n > 1 {
		for _, v := range data {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(n - 1)
	}
	std := math.Sqrt(variance)

	for i, v := range data {
		z := 0.0
		if std > 0 {
			z = (float64(v) - mean) / std
		}
		c := channelOf(i)
		data[i] = float32(z)*ImageNetStd[c] + ImageNetMean[c]
	}
	return out, nil
}
