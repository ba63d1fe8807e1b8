// Package images - image decoding, resizing and tensor packing for the detector.
package images

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned for image bytes no registered decoder accepts.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ImageFormat represents supported image formats.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatGIF  ImageFormat = "gif"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
	FormatWebP ImageFormat = "webp"
)

// Extensions maps lower-case file extensions to their format.
var Extensions = map[string]ImageFormat{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".webp": FormatWebP,
}

// MIMETypes maps content types to their format.
var MIMETypes = map[string]ImageFormat{
	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/gif":  FormatGIF,
	"image/bmp":  FormatBMP,
	"image/tiff": FormatTIFF,
	"image/webp": FormatWebP,
}

// DetectFormat sniffs the format from the content of b.
func DetectFormat(b []byte) (ImageFormat, bool) {
	mtype := mimetype.Detect(b)
	for m := mtype; m != nil; m = m.Parent() {
		if f, ok := MIMETypes[m.String()]; ok {
			return f, true
		}
	}
	return "", false
}

// FormatFromPath returns the format implied by the file extension.
func FormatFromPath(path string) (ImageFormat, bool) {
	f, ok := Extensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Decode sniffs the format of b and decodes it. EXIF orientation is applied,
// so camera photos come out upright.
//
// Arguments:
//   - b: The encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: ErrUnsupportedFormat or the decoder error.
func Decode(b []byte) (image.Image, ImageFormat, error) {
	if len(b) == 0 {
		return nil, "", errors.New("empty image data")
	}
	format, ok := DetectFormat(b)
	if !ok {
		return nil, "", errors.Wrapf(ErrUnsupportedFormat, "content type %s", mimetype.Detect(b).String())
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to decode %s", format)
	}
	return img, format, nil
}

// DecodeFormat decodes b with the decoder for a known format.
func DecodeFormat(b []byte, format ImageFormat) (image.Image, error) {
	if len(b) == 0 {
		return nil, errors.New("empty image data")
	}
	r := bytes.NewReader(b)
	var (
		img image.Image
		err error
	)
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatBMP:
		img, err = bmp.Decode(r)
	case FormatTIFF:
		img, err = tiff.Decode(r)
	case FormatWebP:
		img, err = webp.Decode(r)
	default:
		img, _, err = Decode(b)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", format)
	}
	return img, nil
}

// Load reads and decodes an image file.
func Load(path string) (image.Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	img, _, err := Decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	return img, nil
}
