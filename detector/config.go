package detector

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolov2/models/model"
	"github.com/nvr-ai/go-yolov2/profiler"
)

// ParamGroup identifies a group of parameters that is frozen or trained as a whole.
type ParamGroup string

const (
	// GroupBackbone is every backbone parameter that is not a normalization parameter.
	GroupBackbone ParamGroup = "feature_extractor"
	// GroupBackboneNorm is the backbone's batch-norm scale and shift parameters.
	GroupBackboneNorm ParamGroup = "feature_extractor.norm"
	// GroupHead is the detection convolution's weight and bias.
	GroupHead ParamGroup = "detect_layer"
)

// ParamGroups lists every group in declaration order.
var ParamGroups = []ParamGroup{GroupBackbone, GroupBackboneNorm, GroupHead}

// GroupSetting freezes or unfreezes one parameter group.
type GroupSetting struct {
	Group  ParamGroup `koanf:"group" json:"group" yaml:"group"`
	Frozen bool       `koanf:"frozen" json:"frozen" yaml:"frozen"`
}

// Config describes the detector to build.
type Config struct {
	// NbBox is the number of anchor boxes predicted per grid cell.
	NbBox int `koanf:"nbbox" json:"nb_box" yaml:"nb_box"`
	// NbClass is the number of object classes.
	NbClass int `koanf:"nbclass" json:"nb_class" yaml:"nb_class"`
	// Backbone selects the pretrained feature extractor.
	Backbone model.Name `koanf:"backbone" json:"backbone" yaml:"backbone"`
	// Freeze sets the trainable flag per parameter group. Groups that are not
	// listed stay trainable.
	Freeze []GroupSetting `koanf:"freeze" json:"freeze" yaml:"freeze"`
}

// Validate checks the sizes and freeze settings. The backbone name is checked
// against the registry by New.
func (c Config) Validate() error {
	if c.NbBox <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "nb_box must be positive, got %d", c.NbBox)
	}
	if c.NbClass <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "nb_class must be positive, got %d", c.NbClass)
	}
	_, err := resolveFreeze(c.Freeze)
	return err
}

// resolveFreeze turns the settings into a frozen flag per group. A frozen
// backbone freezes its normalization parameters as well.
func resolveFreeze(settings []GroupSetting) (map[ParamGroup]bool, error) {
	frozen := make(map[ParamGroup]bool, len(ParamGroups))
	for _, g := range ParamGroups {
		frozen[g] = false
	}
	for _, s := range settings {
		if _, ok := frozen[s.Group]; !ok {
			return nil, errors.Wrapf(ErrInvalidConfig, "unknown parameter group %q", s.Group)
		}
		frozen[s.Group] = s.Frozen
	}
	if frozen[GroupBackbone] {
		frozen[GroupBackboneNorm] = true
	}
	return frozen, nil
}

// Option configures a Detector.
type Option func(*options)

type options struct {
	sampler  Sampler
	logger   *zap.Logger
	profiler *profiler.Profiler
}

// WithSampler replaces the unit-normal sampler used to initialize the head.
func WithSampler(s Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProfiler records per-stage forward timings into p.
func WithProfiler(p *profiler.Profiler) Option {
	return func(o *options) {
		o.profiler = p
	}
}
