package detector

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func filled(v float32, shape ...int) *tensor.Dense {
	t := tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))
	data := t.Float32s()
	for i := range data {
		data[i] = v
	}
	return t
}

func TestNormalizeConstantImage(t *testing.T) {
	tests := map[string]struct {
		img     *tensor.Dense
		layout  Layout
		channel func(i int) int
	}{
		"white CHW":  {filled(255, 3, 4, 4), LayoutCHW, func(i int) int { return i / 16 }},
		"white NCHW": {filled(255, 2, 3, 4, 4), LayoutCHW, func(i int) int { return (i / 16) % 3 }},
		"white HWC":  {filled(255, 4, 4, 3), LayoutHWC, func(i int) int { return i % 3 }},
		"black HWC":  {filled(0, 2, 2, 3), LayoutHWC, func(i int) int { return i % 3 }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := Normalize(tc.img, tc.layout)
			require.NoError(t, err)
			assert.Equal(t, tc.img.Shape(), out.Shape())
			for i, v := range out.Float32s() {
				assert.InDelta(t, ImageNetMean[tc.channel(i)], v, 1e-6)
			}
		})
	}
}

func TestNormalizeFormula(t *testing.T) {
	// (3, 1, 2) in CHW.
	raw := []float32{0, 255, 51, 102, 153, 204}
	img := tensor.New(tensor.WithShape(3, 1, 2), tensor.WithBacking(append([]float32(nil), raw...)))

	out, err := Normalize(img, LayoutCHW)
	require.NoError(t, err)

	var sum float64
	for _, v := range raw {
		sum += float64(v) / 255
	}
	mean := sum / float64(len(raw))
	var sq float64
	for _, v := range raw {
		d := float64(v)/255 - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(raw)-1))

	for i, v := range out.Float32s() {
		c := i / 2
		z := (float64(raw[i])/255 - mean) / std
		want := z*float64(ImageNetStd[c]) + float64(ImageNetMean[c])
		assert.InDelta(t, want, v, 1e-5, "element %d", i)
	}
	assert.Equal(t, raw, img.Float32s(), "input must not be modified")
}

func TestNormalizeLayoutsAgree(t *testing.T) {
	const h, w = 2, 3
	chw := make([]float32, 3*h*w)
	hwc := make([]float32, 3*h*w)
	for c := 0; c < 3; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := float32((c*h*w + y*w + x) * 13 % 256)
				chw[(c*h+y)*w+x] = v
				hwc[(y*w+x)*3+c] = v
			}
		}
	}

	a, err := Normalize(tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(chw)), LayoutCHW)
	require.NoError(t, err)
	b, err := Normalize(tensor.New(tensor.WithShape(h, w, 3), tensor.WithBacking(hwc)), LayoutHWC)
	require.NoError(t, err)

	ad, bd := a.Float32s(), b.Float32s()
	for c := 0; c < 3; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				assert.InDelta(t, ad[(c*h+y)*w+x], bd[(y*w+x)*3+c], 1e-6)
			}
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := map[string]struct {
		img    *tensor.Dense
		layout Layout
	}{
		"four channels CHW": {filled(1, 4, 2, 2), LayoutCHW},
		"four channels HWC": {filled(1, 2, 2, 4), LayoutHWC},
		"rank two":          {filled(1, 3, 3), LayoutCHW},
		"float64":           {tensor.New(tensor.WithShape(3, 2, 2), tensor.Of(tensor.Float64)), LayoutCHW},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(tc.img, tc.layout)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrShape))
		})
	}
}

func TestPrepare(t *testing.T) {
	bright := image.NewRGBA(image.Rect(0, 0, 20, 10))
	dark := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			bright.Set(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 255})
		}
	}

	x, err := Prepare([]image.Image{bright, dark})
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 3, 416, 416}, x.Shape())

	// Constant images normalize to the channel means, independently of each other.
	data := x.Float32s()
	plane := 416 * 416
	for n := 0; n < 2; n++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, ImageNetMean[c], data[(n*3+c)*plane+plane/2], 1e-3)
		}
	}

	_, err = Prepare(nil)
	assert.Error(t, err)
}
