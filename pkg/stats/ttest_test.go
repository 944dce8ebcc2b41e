package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneSampleT(t *testing.T) {
	// Known example: values 1..5, mean 3, SD sqrt(2.5), t = 3/(sqrt(2.5)/sqrt(5)).
	values := []float64{1, 2, 3, 4, 5}
	result, err := OneSampleT(values)
	require.NoError(t, err)

	assert.Equal(t, 5, result.N)
	assert.InDelta(t, 3.0, result.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), result.StdDev, 1e-12)
	assert.InDelta(t, 3.0/(math.Sqrt(2.5)/math.Sqrt(5)), result.T, 1e-12)
	assert.Equal(t, 4.0, result.DF)
	assert.False(t, result.Degenerate)
	assert.Greater(t, result.PValue, 0.0)
	assert.Less(t, result.PValue, 0.05)
	assert.InDelta(t, 3.0/math.Sqrt(2.5), result.CohensD, 1e-12)
}

func TestOneSampleTZeroMean(t *testing.T) {
	result, err := OneSampleT([]float64{-1, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.T, 1e-12)
	assert.InDelta(t, 1.0, result.PValue, 1e-9)
}

func TestOneSampleTDegenerate(t *testing.T) {
	// Constant nonzero differences: the statistic is undefined in the
	// classical sense; the policy reports an infinite t with p=0, flagged.
	result, err := OneSampleT([]float64{0.1, 0.1, 0.1})
	require.NoError(t, err)

	assert.True(t, result.Degenerate)
	assert.True(t, math.IsInf(result.T, 1))
	assert.Zero(t, result.PValue)
	assert.False(t, math.IsNaN(result.PValue))
	assert.False(t, math.IsNaN(result.Mean))

	// Constant zero differences: no evidence at all.
	zero, err := OneSampleT([]float64{0, 0, 0})
	require.NoError(t, err)
	assert.True(t, zero.Degenerate)
	assert.Zero(t, zero.T)
	assert.Equal(t, 1.0, zero.PValue)
}

func TestOneSampleTTooFewValues(t *testing.T) {
	_, err := OneSampleT([]float64{1})
	assert.Error(t, err)
	_, err = OneSampleT(nil)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	d := Describe([]float64{4, 1, 3, 2, 5})
	assert.Equal(t, 5, d.Count)
	assert.InDelta(t, 3.0, d.Mean, 1e-12)
	assert.InDelta(t, 3.0, d.Median, 1e-12)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)

	assert.Zero(t, Describe(nil).Count)
}

func TestCenterAndZScores(t *testing.T) {
	centered, mean := Center([]float64{1, 2, 3})
	assert.InDelta(t, 2.0, mean, 1e-12)
	assert.InDelta(t, -1.0, centered[0], 1e-12)
	assert.InDelta(t, 1.0, centered[2], 1e-12)

	z := ZScores([]float64{5, 5, 5})
	for _, v := range z {
		assert.Zero(t, v, "degenerate variance must yield zero z-scores")
	}
}
