package pipeline

import (
	"image"
	"image/color"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// Annotate draws the boundary of every region onto a copy of base. base is
// a BGR buffer and is left untouched. c is given in RGB.
func Annotate(base gocv.Mat, regions []Region, c color.RGBA, lineWidth int) (gocv.Mat, error) {
	if base.Empty() {
		return gocv.Mat{}, apperrors.NewEmptyInputError("annotation")
	}
	out := base.Clone()
	if len(regions) == 0 {
		return out, nil
	}
	if lineWidth < 1 {
		lineWidth = 1
	}

	polys := make([][]image.Point, 0, len(regions))
	for _, r := range regions {
		if len(r.Points) > 0 {
			polys = append(polys, r.Points)
		}
	}
	if len(polys) == 0 {
		return out, nil
	}

	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()
	// gocv takes RGBA and writes it as a BGR scalar
	c.A = 0xff
	gocv.DrawContours(&out, pv, -1, c, lineWidth)
	return out, nil
}
