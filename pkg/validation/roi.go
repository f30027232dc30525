package validation

import (
	"fmt"
	"image"
	"math"
)

// ScaleRectangle maps a rectangle drawn on a downscaled preview back onto the
// full-resolution image. Each axis uses its own factor (full / preview).
func ScaleRectangle(r image.Rectangle, preview, full image.Point) (image.Rectangle, error) {
	if preview.X <= 0 || preview.Y <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid preview size %dx%d", preview.X, preview.Y)
	}
	if full.X <= 0 || full.Y <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid image size %dx%d", full.X, full.Y)
	}
	if preview == full {
		return r, nil
	}

	sx := float64(full.X) / float64(preview.X)
	sy := float64(full.Y) / float64(preview.Y)

	return image.Rect(
		int(math.Round(float64(r.Min.X)*sx)),
		int(math.Round(float64(r.Min.Y)*sy)),
		int(math.Round(float64(r.Max.X)*sx)),
		int(math.Round(float64(r.Max.Y)*sy)),
	), nil
}

// ValidateRectangle checks the shape of a requested ROI before clamping.
// Out-of-bounds rectangles are not errors here; the pipeline clamps them.
func ValidateRectangle(x, y, width, height int) []Issue {
	var issues []Issue
	if width <= 0 || height <= 0 {
		issues = append(issues, Issue{
			Field:    "roi",
			Message:  fmt.Sprintf("roi size must be positive, got %dx%d", width, height),
			Severity: SeverityError,
		})
	}
	if x < 0 || y < 0 {
		issues = append(issues, Issue{
			Field:    "roi",
			Message:  fmt.Sprintf("roi origin (%d,%d) is negative and will be clamped", x, y),
			Severity: SeverityWarning,
		})
	}
	return issues
}
