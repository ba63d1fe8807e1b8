// Package backbone - Pretrained feature extractors and the hub that serves them.
//
// A backbone is the convolutional trunk of a pretrained classifier with its
// pooling and classification layers removed. It maps a (batch, 3, 416, 416)
// image tensor to a (batch, C, 13, 13) feature map. The detector only depends
// on the Loader interface, so the hosting mechanism (HTTP hub, local cache,
// in-process stub) is interchangeable.
package backbone

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/models/model"
)

// ErrInput is returned when a tensor handed to a backbone has the wrong
// dtype or layout.
var ErrInput = errors.New("invalid backbone input")

// Backbone is a pretrained feature extractor.
type Backbone interface {
	// Forward maps an NCHW float32 image batch to an NCHW feature map.
	Forward(x *tensor.Dense) (*tensor.Dense, error)
	// OutChannels is the channel count of the feature map.
	OutChannels() int
	// Close releases runtime resources held by the backbone.
	Close() error
}

// Param describes one named parameter tensor owned by a backbone.
type Param struct {
	// Name is the dotted parameter path, e.g. "layer1.0.bn1.weight".
	Name string
	// Shape is the parameter shape.
	Shape tensor.Shape
	// Normalization is true for batch-norm scale/shift parameters.
	Normalization bool
}

// ParamLister is implemented by backbones that can enumerate their parameters.
// Backbones executed by an opaque runtime do not implement it.
type ParamLister interface {
	Params() []Param
}

// Metadata describes a loaded backbone.
type Metadata struct {
	// Name is the public backbone name.
	Name model.Name `json:"name" yaml:"name"`
	// Entrypoint is the hub artefact name.
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`
	// OutChannels is the feature map channel count.
	OutChannels int `json:"out_channels" yaml:"out_channels"`
	// Path is the local artefact path, empty for in-process backbones.
	Path string `json:"path" yaml:"path"`
	// SHA256 is the hex digest of the artefact, empty for in-process backbones.
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// Loader resolves a backbone name into a ready-to-run backbone.
type Loader interface {
	Load(ctx context.Context, name model.Name) (Backbone, Metadata, error)
}

// LoaderFunc adapts an ordinary function to the Loader interface.
type LoaderFunc func(ctx context.Context, name model.Name) (Backbone, Metadata, error)

// Load calls f(ctx, name).
func (f LoaderFunc) Load(ctx context.Context, name model.Name) (Backbone, Metadata, error) {
	return f(ctx, name)
}
