package service

import (
	"image"

	"go-spot-counter/internal/pipeline"
	"go-spot-counter/pkg/models"
)

func toRect(r image.Rectangle) models.Rect {
	return models.Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func toModelParameters(p pipeline.Parameters) models.Parameters {
	return models.Parameters{
		Threshold:      p.Threshold,
		BlurKernelSize: p.BlurKernelSize,
		KernelShape:    string(p.KernelShape),
		KernelSize:     p.KernelSize,
		MinArea:        p.MinArea,
		MaxArea:        p.MaxArea,
		MarkerColor:    pipeline.FormatHexColor(p.MarkerColor),
		LineWidth:      p.LineWidth,
	}
}

func toModelStats(s pipeline.AreaStats) models.AreaStats {
	return models.AreaStats(s)
}

func toSpots(regions []pipeline.Region) []models.Spot {
	spots := make([]models.Spot, len(regions))
	for i, r := range regions {
		spots[i] = models.Spot{
			Area:     r.Area,
			BBox:     toRect(r.Bounds),
			Centroid: models.Point{X: r.Centroid.X, Y: r.Centroid.Y},
		}
	}
	return spots
}
