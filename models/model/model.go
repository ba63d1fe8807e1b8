// Package model - Definitions for the backbones a detector can be attached to.
package model

import "github.com/pkg/errors"

// ErrUnsupportedBackbone is returned when a backbone name is outside the
// supported set. It signals a caller or configuration bug.
var ErrUnsupportedBackbone = errors.New("architecture not supported, only MobileNet and ResNet are available")

// Name is the unique identifier of a pretrained backbone.
type Name string

const (
	// BackboneMobileNet is MobileNetV2 with its classifier removed.
	BackboneMobileNet Name = "MobileNet"
	// BackboneResNet is ResNet-50 with its final pooling and fc layers removed.
	BackboneResNet Name = "ResNet"
)

const (
	// InputSize is the square input resolution every backbone expects.
	InputSize = 416
	// GridSize is the spatial size of the feature map (InputSize / Stride).
	GridSize = 13
	// Stride is the total downsampling factor of both backbones.
	Stride = 32
	// BoxAttributes is the number of per-box values that precede the class
	// scores: tx, ty, tw, th and objectness.
	BoxAttributes = 5
)

// Spec describes a backbone as published by the model hub.
type Spec struct {
	// Name is the public backbone name.
	Name Name `json:"name" yaml:"name"`
	// Entrypoint is the hub artefact name, e.g. "mobilenet_v2".
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`
	// OutChannels is the channel count of the feature map.
	OutChannels int `json:"out_channels" yaml:"out_channels"`
	// Input is the name of the graph input tensor.
	Input string `json:"input" yaml:"input"`
	// Output is the name of the feature map output tensor.
	Output string `json:"output" yaml:"output"`
}

// File returns the artefact file name published by the hub.
func (s Spec) File() string {
	return s.Entrypoint + ".onnx"
}

// Channels returns the channel count of the raw detection tensor for the
// given number of anchor boxes and classes.
func Channels(nbBox, nbClass int) int {
	return nbBox * (BoxAttributes + nbClass)
}
