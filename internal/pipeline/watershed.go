package pipeline

import (
	"image"
	"image/color"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// WatershedExtractor splits touching spots. Each mask component is seeded
// where its distance to the background is at least ForegroundRatio of the
// component's own maximum, then the seeds are flooded across the mask. The
// line where two floods meet separates the spots. Every basin is traced the
// way ContourExtractor traces components.
type WatershedExtractor struct {
	ForegroundRatio float64
}

// NewWatershedExtractor returns the extractor with a 0.6 seed ratio
func NewWatershedExtractor() WatershedExtractor {
	return WatershedExtractor{ForegroundRatio: 0.6}
}

func (w WatershedExtractor) Name() string { return "watershed" }

func (w WatershedExtractor) Extract(mask gocv.Mat) ([]Region, error) {
	if mask.Empty() {
		return nil, apperrors.NewEmptyInputError("component extraction")
	}
	if gocv.CountNonZero(mask) == 0 {
		return nil, nil
	}
	ratio := w.ForegroundRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.6
	}

	// Watershed overwrites the outermost pixels with boundary labels, so
	// work on a copy padded by one background pixel.
	src := gocv.NewMat()
	defer src.Close()
	gocv.CopyMakeBorder(mask, &src, 1, 1, 1, 1, gocv.BorderConstant, color.RGBA{})
	rows, cols := src.Rows(), src.Cols()

	dist := gocv.NewMat()
	defer dist.Close()
	distLabels := gocv.NewMat()
	defer distLabels.Close()
	gocv.DistanceTransform(src, &dist, &distLabels, gocv.DistL2, gocv.DistanceMask5, gocv.DistanceLabelCComp)

	components := gocv.NewMat()
	defer components.Close()
	nComponents := gocv.ConnectedComponents(src, &components)

	maskData, err := src.DataPtrUint8()
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to read mask", err)
	}
	distData, err := dist.DataPtrFloat32()
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to read distance map", err)
	}
	compData, err := components.DataPtrInt32()
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to read components", err)
	}

	peak := make([]float32, nComponents)
	for i, c := range compData {
		if c > 0 && distData[i] > peak[c] {
			peak[c] = distData[i]
		}
	}

	seeds := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	defer seeds.Close()
	seedData, err := seeds.DataPtrUint8()
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to build seeds", err)
	}
	for i, c := range compData {
		seedData[i] = 0
		if c > 0 && distData[i] >= float32(ratio)*peak[c] {
			seedData[i] = 255
		}
	}

	// Seeds are labeled 1..nSeeds-1; everything else starts unknown.
	markers := gocv.NewMat()
	defer markers.Close()
	nSeeds := gocv.ConnectedComponents(seeds, &markers)

	relief := gocv.NewMat()
	defer relief.Close()
	gocv.CvtColor(src, &relief, gocv.ColorGrayToBGR)
	gocv.Watershed(relief, &markers)

	labels, err := markers.DataPtrInt32()
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to read watershed labels", err)
	}
	return basinRegions(labels, maskData, rows, cols, nSeeds-1, image.Pt(-1, -1))
}

// basinRegions traces every labeled basin, restricted to the mask, inside
// its own bounding box. offset shifts the traced points.
func basinRegions(labels []int32, mask []uint8, rows, cols, maxLabel int, offset image.Point) ([]Region, error) {
	boxes := make([]image.Rectangle, maxLabel+1)
	seen := make([]bool, maxLabel+1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := y*cols + x
			l := int(labels[i])
			if l < 1 || l > maxLabel || mask[i] == 0 {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !seen[l] {
				boxes[l], seen[l] = px, true
			} else {
				boxes[l] = boxes[l].Union(px)
			}
		}
	}

	var regions []Region
	for l := 1; l <= maxLabel; l++ {
		if !seen[l] {
			continue
		}
		box := boxes[l]
		// One pixel of padding keeps basins on the box edge closed for the tracer.
		w, h := box.Dx()+2, box.Dy()+2
		basin := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
		data, err := basin.DataPtrUint8()
		if err != nil {
			basin.Close()
			return nil, apperrors.NewProcessingError("failed to build basin mask", err)
		}
		for i := range data {
			data[i] = 0
		}
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				i := y*cols + x
				if int(labels[i]) == l && mask[i] != 0 {
					data[(y-box.Min.Y+1)*w+(x-box.Min.X+1)] = 255
				}
			}
		}
		regions = append(regions, traceContours(basin, box.Min.Sub(image.Pt(1, 1)).Add(offset))...)
		basin.Close()
	}
	return regions, nil
}
