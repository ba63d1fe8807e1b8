package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/backbone"
	"github.com/nvr-ai/go-yolov2/config"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/models/model"
)

// zeroBackbone emits an all-zero feature map of the registry's channel count.
type zeroBackbone struct {
	channels int
}

func (z zeroBackbone) OutChannels() int { return z.channels }
func (z zeroBackbone) Close() error     { return nil }

func (z zeroBackbone) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	n := x.Shape()[0]
	return tensor.New(tensor.WithShape(n, z.channels, 13, 13), tensor.Of(tensor.Float32)), nil
}

func stubFactory(cfg config.AppConfig, _ *zap.Logger) (backbone.Loader, error) {
	return backbone.LoaderFunc(func(_ context.Context, name model.Name) (backbone.Backbone, backbone.Metadata, error) {
		spec, err := models.Lookup(name)
		if err != nil {
			return nil, backbone.Metadata{}, err
		}
		return zeroBackbone{channels: spec.OutChannels}, backbone.Metadata{Name: name, OutChannels: spec.OutChannels}, nil
	}), nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, factory LoaderFactory, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCLI(factory)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const stubConfig = `
detector:
  nbbox: 5
  nbclass: 20
  backbone: MobileNet
  freeze:
    - group: feature_extractor
      frozen: true
`

func TestParams(t *testing.T) {
	out, err := run(t, stubFactory, "--config", writeConfig(t, stubConfig), "params")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "feature_extractor")
	assert.Contains(t, out, "detect_layer.weight")
	assert.Contains(t, out, "(125, 1280, 1, 1)")
	assert.Contains(t, out, "false")
}

func TestParamsUnsupportedBackbone(t *testing.T) {
	_, err := run(t, stubFactory, "--config", writeConfig(t, "detector:\n  backbone: VGG\n"), "params")
	assert.ErrorIs(t, err, model.ErrUnsupportedBackbone)
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-1.png"), buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-2.png"), buf.Bytes(), 0o644))

	cfg := writeConfig(t, stubConfig)
	out, err := run(t, stubFactory, "--config", cfg, "detect", "--batch", "1", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "IMAGE")

	_, err = run(t, stubFactory, "--config", cfg, "detect", filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	_, err = run(t, stubFactory, "--config", cfg, "detect", t.TempDir())
	assert.ErrorContains(t, err, "no images found")
}

func TestBench(t *testing.T) {
	out, err := run(t, stubFactory, "--config", writeConfig(t, stubConfig), "bench", "-n", "2")
	require.NoError(t, err)
	for _, op := range []string{"OPERATION", "forward", "backbone", "detect_layer"} {
		assert.Contains(t, out, op)
	}

	_, err = run(t, stubFactory, "--config", writeConfig(t, stubConfig), "bench", "-n", "0")
	assert.Error(t, err)
}

func TestPull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resnet50.onnx" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("resnet weights"))
	}))
	defer server.Close()

	cache := t.TempDir()
	cfg := writeConfig(t, stubConfig+"hub:\n  baseurl: "+server.URL+"\n  cachedir: "+cache+"\n  retrycount: 0\n")

	out, err := run(t, stubFactory, "--config", cfg, "pull", "ResNet")
	require.NoError(t, err)
	assert.Contains(t, out, "ResNet")
	assert.FileExists(t, filepath.Join(cache, "resnet50.onnx"))

	_, err = run(t, stubFactory, "--config", cfg, "pull", "MobileNet")
	assert.ErrorContains(t, err, "404")
}

func TestMissingConfigFlag(t *testing.T) {
	_, err := run(t, stubFactory, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "params")
	assert.Error(t, err)
}

func TestServeShutsDownWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	cmd := newCLI(stubFactory)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", writeConfig(t, stubConfig), "serve", "--addr", "127.0.0.1:0"})
	assert.NoError(t, cmd.ExecuteContext(ctx))
}

func TestServeBadAddress(t *testing.T) {
	_, err := run(t, stubFactory, "--config", writeConfig(t, stubConfig), "serve", "--addr", "256.0.0.1:bad")
	assert.ErrorContains(t, err, "failed to listen")
}
