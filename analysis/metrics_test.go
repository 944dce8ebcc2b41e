package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsGather(t *testing.T) {
	m := NewPipelineMetrics()
	m.ObserveSimulated(100)
	m.ObserveExclusion("short_trial", 7, 0)
	m.ObserveExclusion("outlier", 16, 2)
	m.ObserveFit(true)
	m.ObserveFit(false)

	samples, err := m.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	byKey := make(map[string]float64)
	for _, s := range samples {
		byKey[s.Name+"{"+s.Labels+"}"] = s.Value
	}
	assert.Equal(t, 100.0, byKey["mb_trials_simulated_total{}"])
	assert.Equal(t, 7.0, byKey["mb_trials_excluded_total{filter=short_trial}"])
	assert.Equal(t, 16.0, byKey["mb_trials_excluded_total{filter=outlier}"])
	assert.Equal(t, 2.0, byKey["mb_subjects_excluded_total{filter=outlier}"])
	assert.Equal(t, 2.0, byKey["mb_models_fitted_total{}"])
	assert.Equal(t, 1.0, byKey["mb_models_nonconverged_total{}"])
}

func TestFacetedHistogram(t *testing.T) {
	values := []float64{1, 2, 3, 9, 10, 5}
	facets := []string{"A", "A", "A", "B", "B", "B"}

	h := NewFacetedHistogram("Age", "Method", values, facets, 3)
	require.Len(t, h.Facets, 2)

	total := 0
	for _, grid := range h.Facets {
		require.Len(t, grid, 3)
		for _, bin := range grid {
			total += bin.Count
		}
	}
	assert.Equal(t, len(values), total, "every value lands in exactly one bin")

	rendered := h.Render()
	assert.Contains(t, rendered, "Method = A")
	assert.Contains(t, rendered, "Method = B")

	empty := NewFacetedHistogram("Age", "Method", nil, nil, 3)
	assert.Empty(t, empty.Facets)
	assert.Empty(t, empty.Render())
}
