// Package stats provides the basic inferential and descriptive statistics
// used by the analysis report: a one-sample t-test with effect size and
// small summary helpers built on gonum.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TTestResult is a two-sided one-sample t-test against zero.
type TTestResult struct {
	N          int     `json:"n"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stdDev"`
	StdErr     float64 `json:"stdErr"`
	T          float64 `json:"t"`
	DF         float64 `json:"df"`
	PValue     float64 `json:"pValue"`
	CohensD    float64 `json:"cohensD"`    // mean / SD
	Degenerate bool    `json:"degenerate"` // zero sample variance; statistics defined by policy
}

// OneSampleT tests whether the mean of values differs from zero.
//
// Zero-variance input makes the t statistic undefined; the policy is
// explicit: a zero mean yields t=0, p=1, and a nonzero mean yields an
// infinite t with p=0, both flagged Degenerate. Fewer than two values is an
// error, there is no variance to estimate.
func OneSampleT(values []float64) (*TTestResult, error) {
	n := len(values)
	if n < 2 {
		return nil, fmt.Errorf("one-sample t-test needs at least 2 values, got %d", n)
	}

	mean := stat.Mean(values, nil)
	sd := stat.StdDev(values, nil)
	df := float64(n - 1)

	result := &TTestResult{N: n, Mean: mean, StdDev: sd, DF: df}

	if sd == 0 {
		result.Degenerate = true
		if mean == 0 {
			result.PValue = 1
		} else {
			result.T = math.Inf(sign(mean))
			result.CohensD = math.Inf(sign(mean))
		}
		return result, nil
	}

	result.StdErr = sd / math.Sqrt(float64(n))
	result.T = mean / result.StdErr
	result.CohensD = mean / sd

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	result.PValue = 2 * dist.Survival(math.Abs(result.T))

	return result, nil
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}
