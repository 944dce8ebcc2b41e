package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Descriptives summarizes one numeric column.
type Descriptives struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// Describe computes a five-number summary plus mean and SD. Empty input
// yields a zero value.
func Describe(values []float64) Descriptives {
	if len(values) == 0 {
		return Descriptives{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Descriptives{
		Count:  len(values),
		Mean:   stat.Mean(values, nil),
		StdDev: stat.StdDev(values, nil),
		Min:    sorted[0],
		Q1:     stat.Quantile(0.25, stat.Empirical, sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Q3:     stat.Quantile(0.75, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
}

// Center subtracts the mean from every value, returning a new slice and the
// mean that was removed.
func Center(values []float64) ([]float64, float64) {
	mean := stat.Mean(values, nil)
	centered := make([]float64, len(values))
	for i, v := range values {
		centered[i] = v - mean
	}
	return centered, mean
}

// ZScores standardizes values against their own mean and sample SD. A zero
// SD returns all zeros, mirroring the cleaning policy for degenerate data.
func ZScores(values []float64) []float64 {
	mean := stat.Mean(values, nil)
	sd := stat.StdDev(values, nil)
	scores := make([]float64, len(values))
	if sd == 0 || math.IsNaN(sd) {
		return scores
	}
	for i, v := range values {
		scores[i] = (v - mean) / sd
	}
	return scores
}
