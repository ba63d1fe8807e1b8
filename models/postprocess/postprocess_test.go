package postprocess

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/images"
)

// quietGrid returns an (n, boxes, 5+classes, 13, 13) grid with every
// objectness logit strongly negative.
func quietGrid(n, boxes, classes int) *tensor.Dense {
	attrs := 5 + classes
	g := tensor.New(tensor.WithShape(n, boxes, attrs, 13, 13), tensor.Of(tensor.Float32))
	data := g.Float32s()
	for b := 0; b < n*boxes; b++ {
		for i := 0; i < 169; i++ {
			data[(b*attrs+4)*169+i] = -20
		}
	}
	return g
}

func set(t *testing.T, g *tensor.Dense, n, box, attr, cy, cx int, v float32) {
	t.Helper()
	require.NoError(t, g.SetAt(v, n, box, attr, cy, cx))
}

func TestDecodeEmptyGrid(t *testing.T) {
	out, err := Decode(quietGrid(2, 5, 3), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Empty(t, out[0])
	assert.Empty(t, out[1])
}

func TestDecodeSingleDetection(t *testing.T) {
	g := quietGrid(1, 5, 3)
	set(t, g, 0, 0, 4, 6, 6, 20) // objectness
	set(t, g, 0, 0, 6, 6, 6, 20) // class 1

	out, err := Decode(g, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out[0], 1)

	r := out[0][0]
	assert.Equal(t, 1, r.Class)
	assert.Equal(t, 0, r.Anchor)
	assert.InDelta(t, 1, r.Score, 1e-3)

	// Center (6.5/13)*416 = 208; size anchor*32.
	w, h := DefaultAnchors[0]*32, DefaultAnchors[1]*32
	assert.InDelta(t, 208-w/2, r.Box.X1, 1e-3)
	assert.InDelta(t, 208+w/2, r.Box.X2, 1e-3)
	assert.InDelta(t, 208-h/2, r.Box.Y1, 1e-3)
	assert.InDelta(t, 208+h/2, r.Box.Y2, 1e-3)
}

func TestDecodeOffsetsAndScale(t *testing.T) {
	g := quietGrid(1, 5, 2)
	// Cell (cx=2, cy=9), anchor 0, tx=2, tw=ln(2).
	set(t, g, 0, 0, 0, 9, 2, 2)
	set(t, g, 0, 0, 2, 9, 2, math32.Log(2))
	set(t, g, 0, 0, 4, 9, 2, 0) // objectness 0.5, equal class logits

	cfg := DefaultConfig()
	cfg.ScoreThreshold = 0.2
	out, err := Decode(g, cfg)
	require.NoError(t, err)
	require.Len(t, out[0], 1)

	r := out[0][0]
	assert.InDelta(t, 0.25, r.Score, 1e-5)
	x := (1/(1+math32.Exp(-2)) + 2) / 13 * 416
	w := DefaultAnchors[0] * 2 / 13 * 416
	assert.InDelta(t, x-w/2, r.Box.X1, 1e-2)
	assert.InDelta(t, x+w/2, r.Box.X2, 1e-2)

	scaled := r.Scale(2, 0.5)
	assert.InDelta(t, 2*r.Box.X1, scaled.Box.X1, 1e-3)
	assert.InDelta(t, 0.5*r.Box.Y2, scaled.Box.Y2, 1e-3)
}

func TestDecodeThresholdAndClamp(t *testing.T) {
	g := quietGrid(1, 5, 2)
	// Largest anchor in the corner cell overflows the input.
	set(t, g, 0, 4, 4, 0, 0, 20)
	set(t, g, 0, 4, 2, 0, 0, 1)
	// Weak detection elsewhere.
	set(t, g, 0, 1, 4, 12, 12, -1)

	out, err := Decode(g, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	box := out[0][0].Box
	assert.Equal(t, float32(0), box.X1)
	assert.Equal(t, float32(0), box.Y1)
	assert.LessOrEqual(t, box.X2, float32(416))
}

func TestDecodeSuppressesOverlaps(t *testing.T) {
	g := quietGrid(1, 5, 2)
	// Same cell, anchors 1 and 2 overlap heavily.
	set(t, g, 0, 1, 4, 5, 5, 20)
	set(t, g, 0, 1, 2, 5, 5, math32.Log(DefaultAnchors[4]/DefaultAnchors[2]))
	set(t, g, 0, 1, 3, 5, 5, math32.Log(DefaultAnchors[5]/DefaultAnchors[3]))
	set(t, g, 0, 2, 4, 5, 5, 5)

	cfg := DefaultConfig()
	out, err := Decode(g, cfg)
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	assert.Equal(t, 1, out[0][0].Anchor)

	// Different classes survive class-aware suppression.
	set(t, g, 0, 2, 6, 5, 5, 20)
	out, err = Decode(g, cfg)
	require.NoError(t, err)
	assert.Len(t, out[0], 2)

	cfg.ClassAware = false
	out, err = Decode(g, cfg)
	require.NoError(t, err)
	assert.Len(t, out[0], 1)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(tensor.New(tensor.WithShape(1, 125, 13, 13), tensor.Of(tensor.Float32)), DefaultConfig())
	assert.True(t, errors.Is(err, ErrGrid))

	_, err = Decode(quietGrid(1, 3, 2), DefaultConfig())
	assert.True(t, errors.Is(err, ErrGrid), "anchor count must match the box count")

	_, err = Decode(tensor.New(tensor.WithShape(1, 5, 5, 13, 13), tensor.Of(tensor.Float32)), DefaultConfig())
	assert.True(t, errors.Is(err, ErrGrid))

	_, err = Decode(tensor.New(tensor.WithShape(1, 5, 7, 13, 13), tensor.Of(tensor.Float64)), DefaultConfig())
	assert.True(t, errors.Is(err, ErrGrid))
}

func TestApplyGreedyNMS(t *testing.T) {
	detections := []Result{
		{Box: images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}, Score: 0.9, Class: 0},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 105, Y2: 105}, Score: 0.8, Class: 0},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 105, Y2: 105}, Score: 0.7, Class: 1},
		{Box: images.Rect{X1: 200, Y1: 200, X2: 300, Y2: 300}, Score: 0.6, Class: 0},
	}

	aware := ApplyGreedyNMS(detections, &NMSConfig{IoUThreshold: 0.5, ClassAware: true})
	require.Len(t, aware, 3)
	assert.Equal(t, []float32{0.9, 0.7, 0.6}, []float32{aware[0].Score, aware[1].Score, aware[2].Score})

	agnostic := ApplyGreedyNMS(detections, &NMSConfig{IoUThreshold: 0.5})
	require.Len(t, agnostic, 2)
	assert.Equal(t, float32(0.6), agnostic[1].Score)

	assert.Nil(t, ApplyGreedyNMS(nil, &NMSConfig{IoUThreshold: 0.5}))
}

func TestSortByScore(t *testing.T) {
	rs := []Result{{Score: 0.1, Class: 0}, {Score: 0.9}, {Score: 0.1, Class: 1}}
	SortByScore(rs)
	assert.Equal(t, float32(0.9), rs[0].Score)
	assert.Equal(t, 0, rs[1].Class)
	assert.Equal(t, 1, rs[2].Class)
}
