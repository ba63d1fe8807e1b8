// Package detector - YOLOv2 detection head over a pretrained backbone.
//
// A Detector feeds an image batch through a pretrained feature extractor and
// a 1x1 detection convolution, then reinterprets the channel axis as a
// (nb_box, 5+nb_class) grid per cell:
//
//	(N, 3, 416, 416) -> backbone -> (N, C, 13, 13)
//	                 -> detect_layer -> (N, nb_box*(5+nb_class), 13, 13)
//	                 -> reshape -> (N, nb_box, 5+nb_class, 13, 13)
//
// Every stage is guarded by a NaN check so diverging activations surface as a
// *NaNError naming the stage.
package detector

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/backbone"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/models/model"
	"github.com/nvr-ai/go-yolov2/profiler"
)

// Detector is a YOLOv2-style detector. Forward does not mutate the detector,
// so a Detector may be shared by goroutines as long as its backbone allows
// concurrent use.
type Detector struct {
	nbBox    int
	nbClass  int
	spec     model.Spec
	meta     backbone.Metadata
	backbone backbone.Backbone
	head     *Head
	frozen   map[ParamGroup]bool
	logger   *zap.Logger
	profiler *profiler.Profiler
}

// Parameter describes one named parameter tensor of the detector.
type Parameter struct {
	// Name is the dotted parameter path.
	Name string
	// Group is the parameter group the tensor belongs to.
	Group ParamGroup
	// Shape is the parameter shape, nil for backbones that do not expose their
	// parameters.
	Shape tensor.Shape
	// Trainable is false when the group is frozen.
	Trainable bool
}

// New builds a detector.
//
// The backbone name is validated before the loader is consulted, so an
// unsupported name never triggers a download.
//
// Arguments:
//   - ctx: Bounds the backbone load.
//   - loader: Resolves the backbone name into a pretrained backbone.
//   - cfg: The detector configuration.
//   - opts: Optional sampler, logger and profiler.
//
// Returns:
//   - *Detector: The detector. Close releases the backbone.
//   - error: ErrInvalidConfig, model.ErrUnsupportedBackbone or a load error.
//
// Example:
//
//	d, err := detector.New(ctx, hub, detector.Config{
//	    NbBox:    5,
//	    NbClass:  80,
//	    Backbone: model.BackboneResNet,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to build detector: %v", err)
//	}
//	defer d.Close()
func New(ctx context.Context, loader backbone.Loader, cfg Config, opts ...Option) (*Detector, error) {
	o := options{
		sampler: GaussianSampler,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := models.Lookup(cfg.Backbone)
	if err != nil {
		return nil, err
	}
	frozen, err := resolveFreeze(cfg.Freeze)
	if err != nil {
		return nil, err
	}

	b, meta, err := loader.Load(ctx, cfg.Backbone)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading backbone %s", cfg.Backbone)
	}
	if b.OutChannels() != spec.OutChannels {
		b.Close()
		return nil, errors.Wrapf(ErrShape, "backbone %s produces %d channels, expected %d",
			cfg.Backbone, b.OutChannels(), spec.OutChannels)
	}

	head, err := newHead(spec.OutChannels, model.Channels(cfg.NbBox, cfg.NbClass), o.sampler)
	if err != nil {
		b.Close()
		return nil, err
	}

	o.logger.Info("detector ready",
		zap.String("backbone", string(cfg.Backbone)),
		zap.Int("nb_box", cfg.NbBox),
		zap.Int("nb_class", cfg.NbClass),
		zap.Int("in_channels", head.InChannels()),
		zap.Int("out_channels", head.OutChannels()))

	return &Detector{
		nbBox:    cfg.NbBox,
		nbClass:  cfg.NbClass,
		spec:     spec,
		meta:     meta,
		backbone: b,
		head:     head,
		frozen:   frozen,
		logger:   o.logger,
		profiler: o.profiler,
	}, nil
}

// Forward runs the detector on an (N, 3, 416, 416) float32 batch and returns
// an (N, nb_box, 5+nb_class, 13, 13) tensor. The batch size is inferred.
//
// Arguments:
//   - x: The input batch. It is not modified.
//
// Returns:
//   - *tensor.Dense: The prediction grid.
//   - error: A *NaNError naming the failing checkpoint, ErrShape when the
//     detection tensor cannot be reshaped, or a backbone error.
func (d *Detector) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	defer d.track("forward")()

	if err := checkNaN(x, CheckpointInput); err != nil {
		return nil, err
	}

	stop := d.track("backbone")
	features, err := d.backbone.Forward(x)
	stop()
	if err != nil {
		return nil, errors.Wrap(err, "backbone forward")
	}
	if err := checkNaN(features, CheckpointFeatures); err != nil {
		return nil, err
	}

	stop = d.track("detect_layer")
	raw, err := d.head.Forward(features)
	stop()
	if err != nil {
		return nil, err
	}
	if err := checkNaN(raw, CheckpointOutput); err != nil {
		return nil, err
	}

	out, err := d.reshape(raw)
	if err != nil {
		return nil, err
	}
	if err := checkNaN(out, CheckpointFinal); err != nil {
		return nil, err
	}

	d.logger.Debug("forward", zap.Ints("shape", out.Shape()))
	return out, nil
}

// reshape splits the channel axis of raw into (nb_box, 5+nb_class) in place.
func (d *Detector) reshape(raw *tensor.Dense) (*tensor.Dense, error) {
	attrs := model.BoxAttributes + d.nbClass
	shape := raw.Shape()
	if shape.Dims() != 4 ||
		shape[1] != d.nbBox*attrs ||
		shape[2] != model.GridSize ||
		shape[3] != model.GridSize {
		return nil, errors.Wrapf(ErrShape, "can't view %v as (-1, %d, %d, %d, %d)",
			shape, d.nbBox, attrs, model.GridSize, model.GridSize)
	}

	batch := shape.TotalSize() / (d.nbBox * attrs * model.GridSize * model.GridSize)
	if err := raw.Reshape(batch, d.nbBox, attrs, model.GridSize, model.GridSize); err != nil {
		return nil, errors.Wrap(err, "can't reshape detection tensor")
	}
	return raw, nil
}

// Head returns the detection convolution.
func (d *Detector) Head() *Head {
	return d.head
}

// NbBox is the number of anchor boxes per cell.
func (d *Detector) NbBox() int {
	return d.nbBox
}

// NbClass is the number of classes.
func (d *Detector) NbClass() int {
	return d.nbClass
}

// Backbone returns the metadata of the loaded backbone.
func (d *Detector) Backbone() backbone.Metadata {
	return d.meta
}

// Trainable reports whether group receives gradient updates.
func (d *Detector) Trainable(group ParamGroup) bool {
	frozen, ok := d.frozen[group]
	return ok && !frozen
}

// Parameters lists the detector's parameters with their group and trainable
// flag. Backbones that cannot enumerate their parameters are reported as a
// single entry without a shape.
func (d *Detector) Parameters() []Parameter {
	var params []Parameter

	if lister, ok := d.backbone.(backbone.ParamLister); ok {
		for _, p := range lister.Params() {
			group := GroupBackbone
			if p.Normalization {
				group = GroupBackboneNorm
			}
			params = append(params, Parameter{
				Name:      string(GroupBackbone) + "." + p.Name,
				Group:     group,
				Shape:     p.Shape,
				Trainable: d.Trainable(group),
			})
		}
	} else {
		params = append(params, Parameter{
			Name:      string(GroupBackbone),
			Group:     GroupBackbone,
			Trainable: d.Trainable(GroupBackbone),
		})
	}

	return append(params,
		Parameter{
			Name:      string(GroupHead) + ".weight",
			Group:     GroupHead,
			Shape:     d.head.weight.Shape().Clone(),
			Trainable: d.Trainable(GroupHead),
		},
		Parameter{
			Name:      string(GroupHead) + ".bias",
			Group:     GroupHead,
			Shape:     d.head.bias.Shape().Clone(),
			Trainable: d.Trainable(GroupHead),
		},
	)
}

// Close releases the backbone.
func (d *Detector) Close() error {
	return d.backbone.Close()
}

func (d *Detector) track(name string) func() {
	if d.profiler == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		d.profiler.Record(name, time.Since(start))
	}
}
