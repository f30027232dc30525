package pipeline

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/pkg/validation"

	"gocv.io/x/gocv"
)

// KernelShape names the structuring element used by the morphology stage
type KernelShape string

const (
	KernelEllipse KernelShape = "ellipse"
	KernelRect    KernelShape = "rect"
	KernelCross   KernelShape = "cross"
)

// ParseKernelShape accepts ellipse, rect, rectangle and cross (case-insensitive)
func ParseKernelShape(s string) (KernelShape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ellipse":
		return KernelEllipse, nil
	case "rect", "rectangle":
		return KernelRect, nil
	case "cross":
		return KernelCross, nil
	default:
		return "", fmt.Errorf("unknown kernel shape %q", s)
	}
}

func (k KernelShape) morphShape() (gocv.MorphShape, error) {
	switch k {
	case KernelEllipse:
		return gocv.MorphEllipse, nil
	case KernelRect:
		return gocv.MorphRect, nil
	case KernelCross:
		return gocv.MorphCross, nil
	default:
		return 0, fmt.Errorf("unknown kernel shape %q", string(k))
	}
}

// DefaultMarkerColor is #28a745
var DefaultMarkerColor = color.RGBA{R: 0x28, G: 0xa7, B: 0x45, A: 0xff}

// Parameters configures one pipeline run
type Parameters struct {
	// Binarization
	Threshold      int
	BlurKernelSize int

	// Morphological opening
	KernelShape KernelShape
	KernelSize  int

	// Area filter, both ends inclusive
	MinArea float64
	MaxArea float64

	// Annotation
	MarkerColor color.RGBA
	LineWidth   int
}

// DefaultParameters returns the parameters used when the caller supplies none
func DefaultParameters() Parameters {
	return Parameters{
		Threshold:      58,
		BlurKernelSize: 1,
		KernelShape:    KernelEllipse,
		KernelSize:     3,
		MinArea:        1,
		MaxArea:        1000,
		MarkerColor:    DefaultMarkerColor,
		LineWidth:      2,
	}
}

// WithThreshold returns parameters with a different binarization threshold
func (p Parameters) WithThreshold(threshold int) Parameters {
	p.Threshold = threshold
	return p
}

// WithBlur returns parameters with a different Gaussian kernel size (1 disables smoothing)
func (p Parameters) WithBlur(size int) Parameters {
	p.BlurKernelSize = size
	return p
}

// WithMorphology returns parameters with a different structuring element
func (p Parameters) WithMorphology(shape KernelShape, size int) Parameters {
	p.KernelShape = shape
	p.KernelSize = size
	return p
}

// WithAreaRange returns parameters with different area filter bounds
func (p Parameters) WithAreaRange(minArea, maxArea float64) Parameters {
	p.MinArea = minArea
	p.MaxArea = maxArea
	return p
}

// WithMarker returns parameters with a different outline color and width
func (p Parameters) WithMarker(c color.RGBA, lineWidth int) Parameters {
	p.MarkerColor = c
	p.LineWidth = lineWidth
	return p
}

// Issues lists every validation finding, including non-fatal ones
func (p Parameters) Issues() []validation.Issue {
	issues := validation.NewParameterValidator().Validate(validation.ParameterSet{
		Threshold:      p.Threshold,
		BlurKernelSize: p.BlurKernelSize,
		KernelSize:     p.KernelSize,
		MinArea:        p.MinArea,
		MaxArea:        p.MaxArea,
		LineWidth:      p.LineWidth,
	})
	if _, err := p.KernelShape.morphShape(); err != nil {
		issues = append(issues, validation.Issue{
			Field:    "kernel_shape",
			Message:  err.Error(),
			Severity: validation.SeverityError,
		})
	}
	return issues
}

// Validate rejects parameters no run can use. max_area < min_area is allowed.
func (p Parameters) Validate() error {
	issues := p.Issues()
	if !validation.HasCriticalIssues(issues) {
		return nil
	}
	msgs := validation.Messages(validation.FilterBySeverity(issues, validation.SeverityError))
	return apperrors.NewValidationError("invalid pipeline parameters", nil).
		WithDetails(strings.Join(msgs, "; "))
}

// ParseHexColor parses #rrggbb, rrggbb or #rgb into an opaque color
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// FormatHexColor renders a color as #rrggbb
func FormatHexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
