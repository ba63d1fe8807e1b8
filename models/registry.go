// Package models - registry for pretrained backbones.
package models

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolov2/models/model"
)

var registry = map[model.Name]model.Spec{
	model.BackboneMobileNet: {
		Name:        model.BackboneMobileNet,
		Entrypoint:  "mobilenet_v2",
		OutChannels: 1280,
		Input:       "input",
		Output:      "features",
	},
	model.BackboneResNet: {
		Name:        model.BackboneResNet,
		Entrypoint:  "resnet50",
		OutChannels: 2048,
		Input:       "input",
		Output:      "features",
	},
}

// Lookup returns the spec of a supported backbone.
//
// This is the single place where backbone names are validated, so every
// entry point (detector construction, hub prefetch, CLI) rejects the same set.
//
// Arguments:
//   - name: The backbone name, e.g. model.BackboneMobileNet.
//
// Returns:
//   - model.Spec: The backbone spec.
//   - error: model.ErrUnsupportedBackbone wrapped with the offending name.
//
// Example:
//
//	spec, err := models.Lookup(model.BackboneResNet)
//	if err != nil {
//	    log.Fatalf("Failed to resolve backbone: %v", err)
//	}
//	fmt.Println(spec.OutChannels) // 2048
func Lookup(name model.Name) (model.Spec, error) {
	spec, ok := registry[name]
	if !ok {
		return model.Spec{}, errors.Wrapf(model.ErrUnsupportedBackbone, "backbone %q", name)
	}
	return spec, nil
}

// Names returns the supported backbone names in a stable order.
func Names() []model.Name {
	names := make([]model.Name, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
