package detector

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/models/model"
)

// headInitScale keeps the initial head outputs small relative to the 13x13 grid.
const headInitScale = 1.0 / float32(model.GridSize*model.GridSize)

// Sampler returns prod(shape) values drawn from a zero-mean, unit-variance
// normal distribution.
type Sampler func(shape ...int) []float32

// GaussianSampler is the default Sampler.
func GaussianSampler(shape ...int) []float32 {
	return G.Gaussian32(0, 1, shape...)
}

// Head is the detection convolution: a 1x1 kernel, stride 1, no padding,
// mapping backbone channels to nb_box*(5+nb_class) channels.
type Head struct {
	inChannels  int
	outChannels int
	// weight has shape (out, in, 1, 1).
	weight *tensor.Dense
	// bias has shape (out).
	bias *tensor.Dense
}

func newHead(inChannels, outChannels int, sample Sampler) (*Head, error) {
	weight := sample(outChannels, inChannels, 1, 1)
	bias := sample(outChannels)
	if len(weight) != outChannels*inChannels || len(bias) != outChannels {
		return nil, errors.Errorf("sampler returned %d weights and %d biases, want %d and %d",
			len(weight), len(bias), outChannels*inChannels, outChannels)
	}
	for i := range weight {
		weight[i] *= headInitScale
	}
	for i := range bias {
		bias[i] *= headInitScale
	}

	return &Head{
		inChannels:  inChannels,
		outChannels: outChannels,
		weight:      tensor.New(tensor.WithShape(outChannels, inChannels, 1, 1), tensor.WithBacking(weight)),
		bias:        tensor.New(tensor.WithShape(outChannels), tensor.WithBacking(bias)),
	}, nil
}

// InChannels is the number of feature channels the head consumes.
func (h *Head) InChannels() int {
	return h.inChannels
}

// OutChannels is the number of raw detection channels the head produces.
func (h *Head) OutChannels() int {
	return h.outChannels
}

// Weight returns a copy of the (out, in, 1, 1) kernel.
func (h *Head) Weight() *tensor.Dense {
	return h.weight.Clone().(*tensor.Dense)
}

// Bias returns a copy of the (out) bias.
func (h *Head) Bias() *tensor.Dense {
	return h.bias.Clone().(*tensor.Dense)
}

// Forward applies the convolution to an (N, in, H, W) feature map and returns
// an (N, out, H, W) tensor.
//
// A fresh expression graph is built per call because gorgonia graphs have a
// fixed batch size. Every graph input is a copy, so neither the features nor
// the head parameters can be written by the tape machine.
//
// Arguments:
//   - features: The backbone output.
//
// Returns:
//   - *tensor.Dense: The raw detection tensor.
//   - error: ErrShape for a feature map with the wrong rank or channel count,
//     or the graph error.
func (h *Head) Forward(features *tensor.Dense) (*tensor.Dense, error) {
	shape := features.Shape().Clone()
	if shape.Dims() != 4 || shape[1] != h.inChannels {
		return nil, errors.Wrapf(ErrShape, "detect_layer expects (batch, %d, H, W), got %v", h.inChannels, shape)
	}
	if features.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShape, "detect_layer expects float32, got %v", features.Dtype())
	}

	g := G.NewGraph()
	x := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(shape...),
		G.WithName(CheckpointFeatures),
		G.WithValue(features.Clone().(*tensor.Dense)))
	w := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(h.outChannels, h.inChannels, 1, 1),
		G.WithName("detect_layer.weight"),
		G.WithValue(h.Weight()))
	b := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(1, h.outChannels, 1, 1),
		G.WithName("detect_layer.bias"),
		G.WithValue(tensor.New(tensor.WithShape(1, h.outChannels, 1, 1), tensor.WithBacking(h.Bias().Float32s()))))

	conv, err := G.Conv2d(x, w, tensor.Shape{1, 1}, []int{0, 0}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare detect_layer convolution")
	}
	out, err := G.BroadcastAdd(conv, b, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare detect_layer bias")
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "can't run detect_layer")
	}

	result, ok := out.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("detect_layer produced %T", out.Value())
	}
	return result.Clone().(*tensor.Dense), nil
}
