package pipeline

import (
	"image"
	"math"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// HoughCircleExtractor detects round spots with the Hough gradient method and
// reports each circle as a polygon. Useful when spots touch and the contour
// tracer would merge them.
type HoughCircleExtractor struct {
	DP                   float64
	MinDist              float64
	CannyThreshold       float64
	AccumulatorThreshold float64
	MinRadius            int
	MaxRadius            int
	// BlurSize smooths the mask before voting; 0 disables it
	BlurSize int
	// Vertices per circle polygon
	Vertices int
}

// NewHoughCircleExtractor returns settings tuned for small fluorescent spots
func NewHoughCircleExtractor() HoughCircleExtractor {
	return HoughCircleExtractor{
		DP:                   1,
		MinDist:              8,
		CannyThreshold:       100,
		AccumulatorThreshold: 10,
		MinRadius:            2,
		MaxRadius:            40,
		BlurSize:             5,
		Vertices:             32,
	}
}

func (h HoughCircleExtractor) Name() string { return "hough" }

func (h HoughCircleExtractor) Extract(mask gocv.Mat) ([]Region, error) {
	if mask.Empty() {
		return nil, apperrors.NewEmptyInputError("component extraction")
	}
	if gocv.CountNonZero(mask) == 0 {
		return nil, nil
	}

	src := mask
	if h.BlurSize > 1 {
		k := h.BlurSize | 1
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(mask, &blurred, image.Pt(k, k), 2, 2, gocv.BorderDefault)
		src = blurred
	}

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(src, &circles, gocv.HoughGradient,
		h.DP, h.MinDist, h.CannyThreshold, h.AccumulatorThreshold, h.MinRadius, h.MaxRadius)

	frame := image.Rect(0, 0, mask.Cols(), mask.Rows())
	vertices := h.Vertices
	if vertices < 8 {
		vertices = 8
	}

	regions := make([]Region, 0, circles.Cols())
	for i := 0; i < circles.Cols(); i++ {
		v := circles.GetVecfAt(0, i)
		if len(v) < 3 || v[2] <= 0 {
			continue
		}
		pts := circlePolygon(float64(v[0]), float64(v[1]), float64(v[2]), vertices, frame)
		if len(pts) < 3 {
			continue
		}
		regions = append(regions, newRegion(pts, shoelaceArea(pts)))
	}
	return regions, nil
}

// circlePolygon samples a circle and clamps every vertex to the frame
func circlePolygon(cx, cy, r float64, n int, frame image.Rectangle) []image.Point {
	pts := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		p := image.Pt(
			int(math.Round(cx+r*math.Cos(theta))),
			int(math.Round(cy+r*math.Sin(theta))),
		)
		p.X = min(max(p.X, frame.Min.X), frame.Max.X-1)
		p.Y = min(max(p.Y, frame.Min.Y), frame.Max.Y-1)
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	return pts
}
