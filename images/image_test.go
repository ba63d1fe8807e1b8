package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func getTestImage() image.Image {
	// 100x100, left half red and right half blue.
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 50 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func uniform(c color.RGBA, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encode(t *testing.T, format ImageFormat) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, getTestImage(), nil)
	case FormatPNG:
		err = png.Encode(&buf, getTestImage())
	case FormatBMP:
		err = bmp.Encode(&buf, getTestImage())
	case FormatTIFF:
		err = tiff.Encode(&buf, getTestImage(), nil)
	case FormatWebP:
		err = webp.Encode(&buf, getTestImage(), &webp.Options{Quality: 80})
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	for _, format := range []ImageFormat{FormatJPEG, FormatPNG, FormatBMP, FormatTIFF, FormatWebP} {
		t.Run(string(format), func(t *testing.T) {
			img, got, err := Decode(encode(t, format))
			require.NoError(t, err)
			assert.Equal(t, format, got)
			assert.Equal(t, 100, img.Bounds().Dx())
			assert.Equal(t, 100, img.Bounds().Dy())

			img, err = DecodeFormat(encode(t, format), format)
			require.NoError(t, err)
			assert.Equal(t, 100, img.Bounds().Dx())
		})
	}
}

func TestDetectFormat(t *testing.T) {
	for _, format := range []ImageFormat{FormatJPEG, FormatPNG, FormatBMP, FormatTIFF, FormatWebP} {
		got, ok := DetectFormat(encode(t, format))
		assert.True(t, ok, format)
		assert.Equal(t, format, got)
	}
	_, ok := DetectFormat([]byte("plain text"))
	assert.False(t, ok)
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode(nil)
	assert.Error(t, err)

	_, _, err = Decode([]byte("not an image"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = DecodeFormat([]byte("not a png"), FormatPNG)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(path, encode(t, FormatPNG), 0o644))

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())

	_, err = Load(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	f, ok := FormatFromPath("/tmp/A.JPG")
	assert.True(t, ok)
	assert.Equal(t, FormatJPEG, f)

	_, ok = FormatFromPath("notes.txt")
	assert.False(t, ok)
}

func TestResizeImageToImage(t *testing.T) {
	tests := []struct {
		name       string
		format     ImageFormat
		targetW    int
		targetH    int
		shouldFail bool
	}{
		{"JPEG resize success", FormatJPEG, 64, 64, false},
		{"WebP resize success", FormatWebP, 128, 128, false},
		{"PNG resize success", FormatPNG, 32, 32, false},
		{"Non-square", FormatBMP, 416, 208, false},
		{"Invalid dimensions", FormatJPEG, 0, 0, true},
		{"Negative dimensions", FormatJPEG, -10, 50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ResizeImageToImage(encode(t, tt.format), tt.targetW, tt.targetH, tt.format)
			if tt.shouldFail {
				assert.Error(t, err)
				assert.Nil(t, img)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.targetW, img.Bounds().Dx())
			assert.Equal(t, tt.targetH, img.Bounds().Dy())
		})
	}

	img, err := ResizeImageToImage([]byte{}, 50, 50, FormatJPEG)
	assert.Nil(t, img)
	assert.ErrorContains(t, err, "empty image data")
}

func TestToTensor(t *testing.T) {
	imgs := []image.Image{
		uniform(color.RGBA{R: 255, G: 128, B: 0, A: 255}, 40, 30),
		uniform(color.RGBA{R: 10, G: 20, B: 30, A: 255}, 500, 500),
	}
	x, err := ToTensor(imgs, 16)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 16, 16}, []int(x.Shape()))

	data := x.Float32s()
	plane := 16 * 16
	want := [][3]float32{{255, 128, 0}, {10, 20, 30}}
	for n := range imgs {
		for c := 0; c < 3; c++ {
			for i := 0; i < plane; i++ {
				assert.InDelta(t, want[n][c], data[(n*3+c)*plane+i], 1)
			}
		}
	}
}

func TestToTensorLayout(t *testing.T) {
	x, err := ToTensor([]image.Image{getTestImage()}, 100)
	require.NoError(t, err)
	data := x.Float32s()
	plane := 100 * 100

	// Far from the red/blue seam the resampled colors are exact.
	left, right := 50*100+10, 50*100+90
	assert.InDelta(t, 255, data[left], 1)
	assert.InDelta(t, 0, data[2*plane+left], 1)
	assert.InDelta(t, 0, data[right], 1)
	assert.InDelta(t, 255, data[2*plane+right], 1)
}

func TestToTensorErrors(t *testing.T) {
	_, err := ToTensor(nil, 416)
	assert.Error(t, err)
	_, err = ToTensor([]image.Image{getTestImage()}, 0)
	assert.Error(t, err)
}
