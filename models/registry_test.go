package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-yolov2/models/model"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name       model.Name
		entrypoint string
		channels   int
	}{
		{model.BackboneMobileNet, "mobilenet_v2", 1280},
		{model.BackboneResNet, "resnet50", 2048},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			spec, err := Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, spec.Name)
			assert.Equal(t, tt.entrypoint, spec.Entrypoint)
			assert.Equal(t, tt.channels, spec.OutChannels)
			assert.Equal(t, tt.entrypoint+".onnx", spec.File())
		})
	}
}

func TestLookupUnsupported(t *testing.T) {
	for _, name := range []model.Name{"VGG", "", "mobilenet", "RESNET"} {
		_, err := Lookup(name)
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrUnsupportedBackbone), "name %q", name)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []model.Name{model.BackboneMobileNet, model.BackboneResNet}, Names())
}

func TestLabels(t *testing.T) {
	assert.Equal(t, 80, COCOLabels.Len())
	assert.Equal(t, 20, VOCLabels.Len())
	assert.Equal(t, "person", COCOLabels.Name(0))
	assert.Equal(t, "class_99", VOCLabels.Name(99))

	labels, err := LookupLabels(LabelSetVOC)
	require.NoError(t, err)
	assert.Equal(t, "tvmonitor", labels.Name(19))

	_, err = LookupLabels("imagenet")
	assert.Error(t, err)

	assert.Equal(t, LabelSetCOCO, LabelsFor(80).Set)
	assert.Equal(t, LabelSetVOC, LabelsFor(20).Set)
	assert.Equal(t, "class_2", LabelsFor(3).Name(2))
}

func TestChannels(t *testing.T) {
	assert.Equal(t, 425, model.Channels(5, 80))
	assert.Equal(t, 125, model.Channels(5, 20))
}
