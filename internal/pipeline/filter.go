package pipeline

// FilterByArea keeps regions with minArea <= Area <= maxArea, in input order.
// When maxArea < minArea nothing passes.
func FilterByArea(regions []Region, minArea, maxArea float64) []Region {
	kept := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Area >= minArea && r.Area <= maxArea {
			kept = append(kept, r)
		}
	}
	return kept
}
