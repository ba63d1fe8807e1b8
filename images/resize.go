package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Resize scales img to width x height with Lanczos3 resampling. The aspect
// ratio is not preserved, matching the fixed square input of the detector.
func Resize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	return resize.Resize(uint(width), uint(height), img, resize.Lanczos3), nil
}

// ResizeImageToImage decodes imageBytes with the decoder for format and
// resizes the result.
func ResizeImageToImage(imageBytes []byte, width, height int, format ImageFormat) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	img, err := DecodeFormat(imageBytes, format)
	if err != nil {
		return nil, err
	}
	return Resize(img, width, height)
}
