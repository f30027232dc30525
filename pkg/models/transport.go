package models

// CountRequest carries the form fields of POST /v1/count. Nil fields fall
// back to the configured defaults.
type CountRequest struct {
	Threshold      *int     `form:"threshold" binding:"omitempty,min=0,max=255"`
	BlurKernelSize *int     `form:"blur_kernel_size" binding:"omitempty,min=1"`
	KernelShape    string   `form:"kernel_shape" binding:"omitempty,oneof=ellipse rect rectangle cross"`
	KernelSize     *int     `form:"kernel_size" binding:"omitempty,min=1"`
	MinArea        *float64 `form:"min_area" binding:"omitempty,min=0"`
	MaxArea        *float64 `form:"max_area"`
	MarkerColor    string   `form:"marker_color"`
	LineWidth      *int     `form:"line_width" binding:"omitempty,min=1"`

	// Region of interest. When preview sizes are given the rectangle was
	// drawn on a preview of that size and is scaled to full resolution.
	ROIX          *int `form:"roi_x"`
	ROIY          *int `form:"roi_y"`
	ROIWidth      *int `form:"roi_width"`
	ROIHeight     *int `form:"roi_height"`
	PreviewWidth  *int `form:"preview_width" binding:"omitempty,min=1"`
	PreviewHeight *int `form:"preview_height" binding:"omitempty,min=1"`

	Binarizer string `form:"binarizer" binding:"omitempty,oneof=fixed adaptive"`
	Extractor string `form:"extractor" binding:"omitempty,oneof=contour hough watershed"`
	Previews  bool   `form:"previews"`
	Archive   bool   `form:"archive"`
}

// HasROI reports whether all four rectangle fields were sent
func (r *CountRequest) HasROI() bool {
	return r.ROIX != nil && r.ROIY != nil && r.ROIWidth != nil && r.ROIHeight != nil
}

// HasAnyROIField reports whether at least one rectangle field was sent
func (r *CountRequest) HasAnyROIField() bool {
	return r.ROIX != nil || r.ROIY != nil || r.ROIWidth != nil || r.ROIHeight != nil
}

// DefaultsResponse describes what POST /v1/count uses when fields are omitted
type DefaultsResponse struct {
	Parameters   Parameters `json:"parameters"`
	Binarizers   []string   `json:"binarizers"`
	Extractors   []string   `json:"extractors"`
	KernelShapes []string   `json:"kernel_shapes"`
	PreviewSize  int        `json:"preview_max_size"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}
