package pipeline

import (
	"image"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// Open erodes then dilates the mask with a size x size structuring element
// of the given shape. Size 1 leaves the mask unchanged.
func Open(mask gocv.Mat, shape KernelShape, size int) (gocv.Mat, error) {
	if mask.Empty() {
		return gocv.Mat{}, apperrors.NewEmptyInputError("morphology")
	}
	morph, err := shape.morphShape()
	if err != nil {
		return gocv.Mat{}, apperrors.NewValidationError("invalid kernel", err)
	}

	out := gocv.NewMat()
	if size <= 1 {
		mask.CopyTo(&out)
		return out, nil
	}

	kernel := gocv.GetStructuringElement(morph, image.Pt(size, size))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &out, gocv.MorphOpen, kernel)
	return out, nil
}
