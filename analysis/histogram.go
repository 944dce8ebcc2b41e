package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// HistogramBin is one bin of counts.
type HistogramBin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// FacetedHistogram bins one numeric column separately for every level of a
// categorical column, over a shared bin grid so the facets are comparable.
// It is inspection output only; nothing downstream consumes it.
type FacetedHistogram struct {
	Value  string                    `json:"value"`  // numeric column name
	Facet  string                    `json:"facet"`  // categorical column name
	Facets map[string][]HistogramBin `json:"facets"` // level -> bins
}

// NewFacetedHistogram bins values by facet level. Bin width covers the
// global range in the requested number of bins; empty input yields an empty
// histogram.
func NewFacetedHistogram(valueName, facetName string, values []float64, facets []string, bins int) *FacetedHistogram {
	h := &FacetedHistogram{
		Value:  valueName,
		Facet:  facetName,
		Facets: make(map[string][]HistogramBin),
	}
	if len(values) == 0 || len(values) != len(facets) || bins <= 0 {
		return h
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		hi = lo + 1
	}
	width := (hi - lo) / float64(bins)

	for i, v := range values {
		level := facets[i]
		grid := h.Facets[level]
		if grid == nil {
			grid = make([]HistogramBin, bins)
			for b := range grid {
				grid[b] = HistogramBin{Lower: lo + float64(b)*width, Upper: lo + float64(b+1)*width}
			}
			h.Facets[level] = grid
		}
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		grid[b].Count++
	}

	return h
}

// Render draws the histogram as fixed-width text, one facet per section.
func (h *FacetedHistogram) Render() string {
	levels := make([]string, 0, len(h.Facets))
	for level := range h.Facets {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	maxCount := 1
	for _, grid := range h.Facets {
		for _, bin := range grid {
			if bin.Count > maxCount {
				maxCount = bin.Count
			}
		}
	}

	var b strings.Builder
	for _, level := range levels {
		fmt.Fprintf(&b, "%s = %s\n", h.Facet, level)
		for _, bin := range h.Facets[level] {
			bar := strings.Repeat("#", bin.Count*40/maxCount)
			fmt.Fprintf(&b, "  [%6.2f, %6.2f) %4d %s\n", bin.Lower, bin.Upper, bin.Count, bar)
		}
	}
	return b.String()
}
