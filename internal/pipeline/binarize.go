package pipeline

import (
	"image"
	"strings"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// Binarizer turns a gray buffer into a 0/255 mask of the same size
type Binarizer interface {
	Name() string
	Binarize(gray gocv.Mat, params Parameters) (gocv.Mat, error)
}

// Blur smooths gray with a size x size Gaussian kernel. Size 1 is a copy.
func Blur(gray gocv.Mat, size int) (gocv.Mat, error) {
	if gray.Empty() {
		return gocv.Mat{}, apperrors.NewEmptyInputError("blur")
	}
	out := gocv.NewMat()
	if size <= 1 {
		gray.CopyTo(&out)
		return out, nil
	}
	gocv.GaussianBlur(gray, &out, image.Pt(size, size), 0, 0, gocv.BorderDefault)
	return out, nil
}

// Threshold smooths gray and sets every pixel strictly brighter than the
// threshold to 255 and everything else to 0.
func Threshold(gray gocv.Mat, blurSize, threshold int) (gocv.Mat, error) {
	if gray.Empty() {
		return gocv.Mat{}, apperrors.NewEmptyInputError("binarization")
	}
	smoothed, err := Blur(gray, blurSize)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer smoothed.Close()

	mask := gocv.NewMat()
	gocv.Threshold(smoothed, &mask, float32(threshold), 255, gocv.ThresholdBinary)
	return mask, nil
}

// FixedThreshold applies the global threshold from the run parameters
type FixedThreshold struct{}

func (FixedThreshold) Name() string { return "fixed" }

func (FixedThreshold) Binarize(gray gocv.Mat, params Parameters) (gocv.Mat, error) {
	return Threshold(gray, params.BlurKernelSize, params.Threshold)
}

// AdaptiveMethod selects how the local threshold is weighted
type AdaptiveMethod string

const (
	AdaptiveGaussian AdaptiveMethod = "gaussian"
	AdaptiveMean     AdaptiveMethod = "mean"
)

// AdaptiveThreshold compares each pixel with its neighborhood instead of a
// global level, optionally after CLAHE contrast equalization. It suits images
// with uneven illumination. Threshold from the run parameters is ignored.
type AdaptiveThreshold struct {
	BlockSize int
	// Offset is how far above the local mean a pixel must be to count as foreground
	Offset float64
	Method AdaptiveMethod

	// CLAHEClipLimit enables equalization when > 0
	CLAHEClipLimit float64
	CLAHETileSize  int
}

// NewAdaptiveThreshold returns the adaptive binarizer with its usual settings
func NewAdaptiveThreshold() AdaptiveThreshold {
	return AdaptiveThreshold{
		BlockSize:     51,
		Offset:        5,
		Method:        AdaptiveGaussian,
		CLAHETileSize: 8,
	}
}

func (a AdaptiveThreshold) Name() string { return "adaptive" }

func (a AdaptiveThreshold) Binarize(gray gocv.Mat, params Parameters) (gocv.Mat, error) {
	if gray.Empty() {
		return gocv.Mat{}, apperrors.NewEmptyInputError("binarization")
	}
	smoothed, err := Blur(gray, params.BlurKernelSize)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer smoothed.Close()

	if a.CLAHEClipLimit > 0 {
		tile := a.CLAHETileSize
		if tile < 1 {
			tile = 8
		}
		clahe := gocv.NewCLAHEWithParams(a.CLAHEClipLimit, image.Pt(tile, tile))
		defer clahe.Close()
		equalized := gocv.NewMat()
		clahe.Apply(smoothed, &equalized)
		smoothed.Close()
		smoothed = equalized
	}

	block := a.BlockSize
	if block < 3 {
		block = 3
	}
	if block%2 == 0 {
		block++
	}
	method := gocv.AdaptiveThresholdGaussian
	if strings.EqualFold(string(a.Method), string(AdaptiveMean)) {
		method = gocv.AdaptiveThresholdMean
	}

	mask := gocv.NewMat()
	gocv.AdaptiveThreshold(smoothed, &mask, 255, method, gocv.ThresholdBinary, block, float32(-a.Offset))
	return mask, nil
}
