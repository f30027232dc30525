package pipeline

import (
	"image"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// QualityMetrics describes the crop a count was taken from. Low sharpness
// usually means the frame was out of focus and spots merged or vanished.
type QualityMetrics struct {
	// Sharpness is the variance of the 4-neighbour Laplacian over interior pixels
	Sharpness          float64 `json:"sharpness"`
	MeanIntensity      float64 `json:"mean_intensity"`
	IntensityStdDev    float64 `json:"intensity_std_dev"`
	ForegroundFraction float64 `json:"foreground_fraction"`
}

// MeasureQuality computes QualityMetrics for a gray crop and its cleaned mask.
// An empty mask leaves ForegroundFraction at 0.
func MeasureQuality(gray, mask gocv.Mat) QualityMetrics {
	var q QualityMetrics
	if gray.Empty() {
		return q
	}

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(gray, &mean, &stddev)
	q.MeanIntensity = mean.GetDoubleAt(0, 0)
	q.IntensityStdDev = stddev.GetDoubleAt(0, 0)

	q.Sharpness = laplacianVariance(gray)

	if !mask.Empty() {
		q.ForegroundFraction = float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols())
	}
	return q
}

func laplacianVariance(gray gocv.Mat) float64 {
	rows, cols := gray.Rows(), gray.Cols()
	if rows < 3 || cols < 3 {
		return 0
	}

	// aperture 1 is the [0 1 0; 1 -4 1; 0 1 0] kernel
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderReflect101)

	view := lap.Region(image.Rect(1, 1, cols-1, rows-1))
	defer view.Close()
	interior := view.Clone()
	defer interior.Close()

	data, err := interior.DataPtrFloat64()
	if err != nil || len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}
