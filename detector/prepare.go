package detector

import (
	"image"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/images"
	"github.com/nvr-ai/go-yolov2/models/model"
)

// Prepare turns decoded images into a detector input batch. Each image is
// resized to the input size and normalized on its own, so one image never
// shifts the statistics of another. Images are prepared concurrently.
//
// Arguments:
//   - imgs: The images, at least one.
//
// Returns:
//   - *tensor.Dense: A (len(imgs), 3, 416, 416) float32 batch.
//   - error: If imgs is empty.
func Prepare(imgs []image.Image) (*tensor.Dense, error) {
	if len(imgs) == 0 {
		return nil, errors.New("no images to prepare")
	}
	per := 3 * model.InputSize * model.InputSize
	data := make([]float32, len(imgs)*per)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, img := range imgs {
		i, img := i, img
		g.Go(func() error {
			raw, err := images.ToTensor([]image.Image{img}, model.InputSize)
			if err != nil {
				return err
			}
			norm, err := Normalize(raw, LayoutCHW)
			if err != nil {
				return err
			}
			copy(data[i*per:(i+1)*per], norm.Float32s())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(len(imgs), 3, model.InputSize, model.InputSize), tensor.WithBacking(data)), nil
}
