package pipeline

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// AreaStats summarizes the areas of the counted spots
type AreaStats struct {
	Count  int     `json:"count"`
	Total  float64 `json:"total_area"`
	Mean   float64 `json:"mean_area"`
	StdDev float64 `json:"std_dev_area"`
	Median float64 `json:"median_area"`
	Min    float64 `json:"min_area"`
	Max    float64 `json:"max_area"`
}

// SummarizeAreas computes AreaStats. No regions gives the zero value.
func SummarizeAreas(regions []Region) AreaStats {
	if len(regions) == 0 {
		return AreaStats{}
	}
	areas := make([]float64, len(regions))
	var total float64
	for i, r := range regions {
		areas[i] = r.Area
		total += r.Area
	}
	sort.Float64s(areas)

	s := AreaStats{
		Count:  len(areas),
		Total:  total,
		Min:    areas[0],
		Max:    areas[len(areas)-1],
		Median: median(areas),
	}
	if len(areas) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(areas, nil)
	} else {
		s.Mean = areas[0]
	}
	return s
}

// median of sorted values; an even count averages the two middle ones
func median(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
