package images

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ToTensor resizes every image to size x size and packs the batch into a
// (len(imgs), 3, size, size) float32 tensor of raw RGB values in [0, 255].
//
// Alpha is ignored. Pass the result through detector.Normalize with the CHW
// layout before running the detector.
//
// Arguments:
//   - imgs: The images, at least one.
//   - size: The square side length.
//
// Returns:
//   - *tensor.Dense: The NCHW batch.
//   - error: If imgs is empty or size is not positive.
func ToTensor(imgs []image.Image, size int) (*tensor.Dense, error) {
	if len(imgs) == 0 {
		return nil, errors.New("no images to pack")
	}
	if size <= 0 {
		return nil, errors.Errorf("invalid tensor size %d", size)
	}

	plane := size * size
	data := make([]float32, len(imgs)*3*plane)
	for n, img := range imgs {
		resized, err := Resize(img, size, size)
		if err != nil {
			return nil, err
		}
		b := resized.Bounds()
		base := n * 3 * plane
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
				i := y*size + x
				data[base+i] = float32(r >> 8)
				data[base+plane+i] = float32(g >> 8)
				data[base+2*plane+i] = float32(bl >> 8)
			}
		}
	}
	return tensor.New(tensor.WithShape(len(imgs), 3, size, size), tensor.WithBacking(data)), nil
}
