package pipeline

import (
	"image"
	"math"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// Region is one connected foreground component
type Region struct {
	// Points is the outer boundary polygon in crop coordinates
	Points []image.Point
	// Area is the polygon area by the shoelace formula
	Area     float64
	Bounds   image.Rectangle
	Centroid Point2D
}

// Point2D is a sub-pixel position
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Extractor finds regions in a 0/255 mask
type Extractor interface {
	Name() string
	Extract(mask gocv.Mat) ([]Region, error)
}

// ContourExtractor traces the outer boundary of every 8-connected component.
// Holes are ignored.
type ContourExtractor struct{}

func (ContourExtractor) Name() string { return "contour" }

func (ContourExtractor) Extract(mask gocv.Mat) ([]Region, error) {
	if mask.Empty() {
		return nil, apperrors.NewEmptyInputError("component extraction")
	}
	return traceContours(mask, image.Point{}), nil
}

// traceContours returns the external contours of mask shifted by offset
func traceContours(mask gocv.Mat, offset image.Point) []Region {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		pts := pv.ToPoints()
		if len(pts) == 0 {
			continue
		}
		if offset != (image.Point{}) {
			for j := range pts {
				pts[j] = pts[j].Add(offset)
			}
		}
		regions = append(regions, newRegion(pts, gocv.ContourArea(pv)))
	}
	return regions
}

func newRegion(pts []image.Point, area float64) Region {
	return Region{
		Points:   pts,
		Area:     area,
		Bounds:   pointBounds(pts),
		Centroid: polygonCentroid(pts),
	}
}

// pointBounds returns the smallest rectangle holding every point, inclusive
// of the pixel each point names.
func pointBounds(pts []image.Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	r.Max = r.Max.Add(image.Pt(1, 1))
	return r
}

// polygonCentroid is the area centroid of a closed polygon. Degenerate
// polygons (lines, single pixels) fall back to the vertex mean.
func polygonCentroid(pts []image.Point) Point2D {
	var a, cx, cy float64
	n := len(pts)
	for i := 0; i < n; i++ {
		p, q := pts[i], pts[(i+1)%n]
		cross := float64(p.X*q.Y - q.X*p.Y)
		a += cross
		cx += float64(p.X+q.X) * cross
		cy += float64(p.Y+q.Y) * cross
	}
	if math.Abs(a) < 1e-9 {
		var sx, sy float64
		for _, p := range pts {
			sx += float64(p.X)
			sy += float64(p.Y)
		}
		if n == 0 {
			return Point2D{}
		}
		return Point2D{X: sx / float64(n), Y: sy / float64(n)}
	}
	return Point2D{X: cx / (3 * a), Y: cy / (3 * a)}
}

// shoelaceArea is the absolute polygon area, matching gocv.ContourArea
func shoelaceArea(pts []image.Point) float64 {
	var a float64
	n := len(pts)
	for i := 0; i < n; i++ {
		p, q := pts[i], pts[(i+1)%n]
		a += float64(p.X*q.Y - q.X*p.Y)
	}
	return math.Abs(a) / 2
}
