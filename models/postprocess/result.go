// Package postprocess - decodes YOLOv2 prediction grids into detections.
package postprocess

import "github.com/nvr-ai/go-yolov2/images"

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in pixels of the network input unless
	// scaled with Scale.
	Box images.Rect
	// The confidence score of the result: objectness times the class probability.
	Score float32
	// The predicted class index of the result.
	Class int
	// The anchor box that produced the result.
	Anchor int
}

// Scale maps the box from network input pixels to an image of another size.
//
// Arguments:
//   - sx: Target width divided by the network input width.
//   - sy: Target height divided by the network input height.
//
// Returns:
//   - Result: A copy with the box scaled.
func (r Result) Scale(sx, sy float32) Result {
	r.Box = images.Rect{
		X1: r.Box.X1 * sx,
		Y1: r.Box.Y1 * sy,
		X2: r.Box.X2 * sx,
		Y2: r.Box.Y2 * sy,
	}
	return r
}
