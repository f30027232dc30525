package validation

import "fmt"

// ParameterLimits defines the accepted ranges for pipeline parameters
type ParameterLimits struct {
	MinThreshold      int
	MaxThreshold      int
	MaxKernelSize     int
	MaxBlurSize       int
	MaxLineWidth      int
	MaxImageDimension int
}

// DefaultParameterLimits returns the limits used by the service
func DefaultParameterLimits() ParameterLimits {
	return ParameterLimits{
		MinThreshold:      0,
		MaxThreshold:      255,
		MaxKernelSize:     99,
		MaxBlurSize:       99,
		MaxLineWidth:      50,
		MaxImageDimension: 16384,
	}
}

// ParameterValidator checks pipeline parameters before a run
type ParameterValidator struct {
	limits ParameterLimits
}

// NewParameterValidator creates a validator with default limits
func NewParameterValidator() *ParameterValidator {
	return &ParameterValidator{limits: DefaultParameterLimits()}
}

// NewParameterValidatorWithLimits creates a validator with custom limits
func NewParameterValidatorWithLimits(limits ParameterLimits) *ParameterValidator {
	return &ParameterValidator{limits: limits}
}

// Issue represents a single validation finding
type Issue struct {
	Field       string  `json:"field"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "error", "warning", "info"
	ActualValue float64 `json:"actual_value"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ParameterSet is the numeric view of the pipeline parameters the validator needs
type ParameterSet struct {
	Threshold      int
	BlurKernelSize int
	KernelSize     int
	MinArea        float64
	MaxArea        float64
	LineWidth      int
}

// Validate returns every issue found in the parameter set
func (pv *ParameterValidator) Validate(p ParameterSet) []Issue {
	var issues []Issue

	if p.Threshold < pv.limits.MinThreshold || p.Threshold > pv.limits.MaxThreshold {
		issues = append(issues, Issue{
			Field:       "threshold",
			Message:     fmt.Sprintf("threshold must be between %d and %d", pv.limits.MinThreshold, pv.limits.MaxThreshold),
			Severity:    SeverityError,
			ActualValue: float64(p.Threshold),
		})
	}

	issues = append(issues, checkOddSize("kernel_size", p.KernelSize, pv.limits.MaxKernelSize)...)
	issues = append(issues, checkOddSize("blur_kernel_size", p.BlurKernelSize, pv.limits.MaxBlurSize)...)

	if p.KernelSize == 1 {
		issues = append(issues, Issue{
			Field:       "kernel_size",
			Message:     "kernel size 1 leaves the mask unchanged (morphology off)",
			Severity:    SeverityInfo,
			ActualValue: 1,
		})
	}

	if p.MinArea < 0 {
		issues = append(issues, Issue{
			Field:       "min_area",
			Message:     "min_area must not be negative",
			Severity:    SeverityError,
			ActualValue: p.MinArea,
		})
	}
	if p.MaxArea < p.MinArea {
		issues = append(issues, Issue{
			Field:       "max_area",
			Message:     "max_area is below min_area; no spot can match",
			Severity:    SeverityWarning,
			ActualValue: p.MaxArea,
		})
	}

	if p.LineWidth < 1 || p.LineWidth > pv.limits.MaxLineWidth {
		issues = append(issues, Issue{
			Field:       "line_width",
			Message:     fmt.Sprintf("line_width must be between 1 and %d", pv.limits.MaxLineWidth),
			Severity:    SeverityError,
			ActualValue: float64(p.LineWidth),
		})
	}

	return issues
}

func checkOddSize(field string, size, limit int) []Issue {
	if size < 1 || size > limit {
		return []Issue{{
			Field:       field,
			Message:     fmt.Sprintf("%s must be between 1 and %d", field, limit),
			Severity:    SeverityError,
			ActualValue: float64(size),
		}}
	}
	if size%2 == 0 {
		return []Issue{{
			Field:       field,
			Message:     fmt.Sprintf("%s must be odd", field),
			Severity:    SeverityError,
			ActualValue: float64(size),
		}}
	}
	return nil
}

// ValidateDimensions rejects images the pipeline should not attempt
func (pv *ParameterValidator) ValidateDimensions(width, height int) []Issue {
	var issues []Issue
	if width <= 0 || height <= 0 {
		issues = append(issues, Issue{
			Field:    "image",
			Message:  fmt.Sprintf("invalid image dimensions %dx%d", width, height),
			Severity: SeverityError,
		})
	}
	if width > pv.limits.MaxImageDimension || height > pv.limits.MaxImageDimension {
		issues = append(issues, Issue{
			Field:       "image",
			Message:     fmt.Sprintf("image too large: %dx%d (max %d)", width, height, pv.limits.MaxImageDimension),
			Severity:    SeverityError,
			ActualValue: float64(max(width, height)),
		})
	}
	return issues
}

// Messages flattens issues into plain strings
func Messages(issues []Issue) []string {
	var messages []string
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return messages
}

// HasCriticalIssues checks if there are any error severity issues
func HasCriticalIssues(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// FilterBySeverity keeps the issues with the given severity
func FilterBySeverity(issues []Issue, severity string) []Issue {
	var out []Issue
	for _, issue := range issues {
		if issue.Severity == severity {
			out = append(out, issue)
		}
	}
	return out
}
