package pipeline

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Rectangle is a region of interest in full-image pixel coordinates
type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bounds returns the rectangle as an image.Rectangle
func (r Rectangle) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rectangle) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.Width, r.Height, r.X, r.Y)
}

// RectangleFrom converts an image.Rectangle
func RectangleFrom(b image.Rectangle) Rectangle {
	return Rectangle{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}
}

// Selection is the cropped pair of buffers every later stage works on
type Selection struct {
	Color gocv.Mat
	Gray  gocv.Mat
	// Rect is the crop in full-image coordinates after clamping
	Rect image.Rectangle
	// Degenerate is set when a requested rectangle had no area inside the image
	Degenerate bool
}

// SelectRegion crops color and gray to the rectangle clamped to the image.
// A nil rectangle selects the whole image. A rectangle with no area left
// after clamping also selects the whole image and marks the selection
// degenerate. The returned buffers are copies owned by the caller.
func SelectRegion(colorMat, gray gocv.Mat, roi *Rectangle) Selection {
	full := image.Rect(0, 0, gray.Cols(), gray.Rows())
	sel := Selection{Rect: full}
	if roi != nil {
		clamped := roi.Bounds().Intersect(full)
		if clamped.Empty() {
			sel.Degenerate = true
		} else {
			sel.Rect = clamped
		}
	}

	if sel.Rect == full {
		sel.Color = colorMat.Clone()
		sel.Gray = gray.Clone()
		return sel
	}
	sel.Color = crop(colorMat, sel.Rect)
	sel.Gray = crop(gray, sel.Rect)
	return sel
}

func crop(m gocv.Mat, r image.Rectangle) gocv.Mat {
	view := m.Region(r)
	defer view.Close()
	return view.Clone()
}
