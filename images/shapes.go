package images

// Rect is a bounding box in pixel coordinates. X2 and Y2 are exclusive, like
// image.Rectangle.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width of the box, zero for an empty box.
func (r Rect) Width() float32 {
	return max(r.X2-r.X1, 0)
}

// Height of the box, zero for an empty box.
func (r Rect) Height() float32 {
	return max(r.Y2-r.Y1, 0)
}

// Area of the box.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Clamp limits the box to [0, width) x [0, height).
func (r Rect) Clamp(width, height float32) Rect {
	return Rect{
		X1: min(max(r.X1, 0), width),
		Y1: min(max(r.Y1, 0), height),
		X2: min(max(r.X2, 0), width),
		Y2: min(max(r.Y2, 0), height),
	}
}

// CalculateIoU returns the intersection over union of two boxes:
//
//	IoU = Area of Intersection / Area of Union
//
// 1.0 means the boxes are identical and 0.0 that they do not overlap. Boxes
// that only touch along an edge do not overlap.
//
// Example:
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	CalculateIoU(a, b) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
