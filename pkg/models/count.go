package models

import "time"

// Parameters is the wire form of the pipeline parameters
type Parameters struct {
	Threshold      int     `json:"threshold"`
	BlurKernelSize int     `json:"blur_kernel_size"`
	KernelShape    string  `json:"kernel_shape"`
	KernelSize     int     `json:"kernel_size"`
	MinArea        float64 `json:"min_area"`
	MaxArea        float64 `json:"max_area"`
	MarkerColor    string  `json:"marker_color"`
	LineWidth      int     `json:"line_width"`
}

// Rect is a rectangle in pixel coordinates
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point is a sub-pixel position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Spot is one counted region. Coordinates are relative to the ROI.
type Spot struct {
	Area     float64 `json:"area"`
	BBox     Rect    `json:"bbox"`
	Centroid Point   `json:"centroid"`
}

// AreaStats summarizes spot areas
type AreaStats struct {
	Count  int     `json:"count"`
	Total  float64 `json:"total_area"`
	Mean   float64 `json:"mean_area"`
	StdDev float64 `json:"std_dev_area"`
	Median float64 `json:"median_area"`
	Min    float64 `json:"min_area"`
	Max    float64 `json:"max_area"`
}

// ImageQuality describes the crop the count was taken from
type ImageQuality struct {
	Sharpness          float64 `json:"sharpness"`
	MeanIntensity      float64 `json:"mean_intensity"`
	IntensityStdDev    float64 `json:"intensity_std_dev"`
	ForegroundFraction float64 `json:"foreground_fraction"`
}

// CountResult is the outcome of one spot counting run
type CountResult struct {
	RunID             string       `json:"run_id"`
	Timestamp         time.Time    `json:"timestamp"`
	ProcessingTimeSec float64      `json:"processing_time_sec"`
	SpotCount         int          `json:"spot_count"`
	RegionCount       int          `json:"region_count"`
	ImageWidth        int          `json:"image_width"`
	ImageHeight       int          `json:"image_height"`
	Format            string       `json:"format,omitempty"`
	ROI               Rect         `json:"roi"`
	Parameters        Parameters   `json:"parameters"`
	Binarizer         string       `json:"binarizer"`
	Extractor         string       `json:"extractor"`
	Stats             AreaStats    `json:"stats"`
	Quality           ImageQuality `json:"quality"`
	Spots             []Spot       `json:"spots"`
	Warnings          []string     `json:"warnings,omitempty"`
	// Previews maps stage name to a PNG data URI
	Previews        map[string]string `json:"previews,omitempty"`
	ArchiveLocation string            `json:"archive_location,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Summary returns a copy without previews or per-spot detail, for history listings
func (r *CountResult) Summary() *CountResult {
	cp := *r
	cp.Previews = nil
	cp.Spots = nil
	return &cp
}
