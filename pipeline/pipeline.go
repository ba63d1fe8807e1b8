// Package pipeline - image in, detections out.
package pipeline

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/models/postprocess"
	"github.com/nvr-ai/go-yolov2/profiler"
)

// Forwarder runs a prepared batch through the network and returns the
// (batch, nb_box, 5+nb_class, 13, 13) grid.
type Forwarder interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
}

// Pipeline prepares images, runs the forwarder and decodes the grid.
type Pipeline struct {
	f    Forwarder
	cfg  postprocess.Config
	prof *profiler.Profiler
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProfiler records "prepare" and "decode" stage durations.
func WithProfiler(p *profiler.Profiler) Option {
	return func(pl *Pipeline) {
		pl.prof = p
	}
}

// New returns a pipeline over f decoding with cfg.
func New(f Forwarder, cfg postprocess.Config, opts ...Option) *Pipeline {
	pl := &Pipeline{f: f, cfg: cfg}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

func (pl *Pipeline) track(name string) func() {
	if pl.prof == nil {
		return func() {}
	}
	return pl.prof.StartOperation(name)
}

// Detect runs imgs as one batch and returns detections per image, in the
// pixel coordinates of the source image.
func (pl *Pipeline) Detect(imgs []image.Image) ([][]postprocess.Result, error) {
	if len(imgs) == 0 {
		return nil, errors.New("no images to detect")
	}

	done := pl.track("prepare")
	x, err := detector.Prepare(imgs)
	done()
	if err != nil {
		return nil, err
	}

	grid, err := pl.f.Forward(x)
	if err != nil {
		return nil, err
	}

	done = pl.track("decode")
	results, err := postprocess.Decode(grid, pl.cfg)
	done()
	if err != nil {
		return nil, err
	}
	if len(results) != len(imgs) {
		return nil, errors.Errorf("decoded %d results for %d images", len(results), len(imgs))
	}

	size := float32(pl.cfg.InputSize)
	for i, found := range results {
		b := imgs[i].Bounds()
		sx, sy := float32(b.Dx())/size, float32(b.Dy())/size
		for j := range found {
			found[j] = found[j].Scale(sx, sy)
		}
	}
	return results, nil
}
