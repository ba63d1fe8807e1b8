package backbone

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/models/model"
)

// ONNXBackbone runs an exported backbone trunk with ONNX Runtime.
//
// The session is dynamic: tensors are bound per call, so the batch dimension
// may change between calls.
type ONNXBackbone struct {
	spec    model.Spec
	session *ort.DynamicAdvancedSession
}

// OpenONNX opens the ONNX artefact at path as a backbone.
//
// Arguments:
//   - path: The local path of the exported trunk.
//   - spec: The backbone spec naming the graph input and output tensors.
//   - cfg: The runtime configuration.
//
// Returns:
//   - *ONNXBackbone: The opened backbone. Close must be called to release it.
//   - error: An error if the runtime or the session cannot be created.
func OpenONNX(path string, spec model.Spec, cfg RuntimeConfig) (*ONNXBackbone, error) {
	if err := InitRuntime(cfg); err != nil {
		return nil, err
	}

	options, err := sessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{spec.Input},
		[]string{spec.Output},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating ORT session for %s", path)
	}

	return &ONNXBackbone{spec: spec, session: session}, nil
}

// OutChannels implements Backbone.
func (b *ONNXBackbone) OutChannels() int {
	return b.spec.OutChannels
}

// Forward implements Backbone. The input tensor is read, never written.
func (b *ONNXBackbone) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	shape := x.Shape()
	if shape.Dims() != 4 || shape[1] != 3 {
		return nil, errors.Wrapf(ErrInput, "expected (batch, 3, H, W), got %v", shape)
	}
	if x.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrInput, "expected float32, got %v", x.Dtype())
	}
	if x.IsView() {
		x = x.Materialize().(*tensor.Dense)
	}

	input, err := ort.NewTensor(
		ort.NewShape(int64(shape[0]), int64(shape[1]), int64(shape[2]), int64(shape[3])),
		x.Float32s(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer input.Destroy()

	// A nil output is allocated by the runtime with the shape the graph produces.
	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrapf(err, "error running %s", b.spec.Entrypoint)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("unexpected output type %T from %s", outputs[0], b.spec.Entrypoint)
	}

	dims := out.GetShape()
	outShape := make([]int, len(dims))
	for i, d := range dims {
		outShape[i] = int(d)
	}
	backing := make([]float32, len(out.GetData()))
	copy(backing, out.GetData())

	return tensor.New(tensor.WithShape(outShape...), tensor.WithBacking(backing)), nil
}

// Close implements Backbone.
func (b *ONNXBackbone) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}
