package lmm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
)

// groupedData simulates clustered observations with known fixed effects.
type groupedData struct {
	y      []float64
	x      []float64
	groups []string
}

// simulateGrouped draws y = intercept + slope*x + groupEffect + noise for
// clusters with the given effects (chosen to sum to zero so the intercept
// stays identified at its nominal value).
func simulateGrouped(seed uint64, perGroup int, intercept, slope, noiseSD float64, effects []float64) *groupedData {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	noise := distuv.Normal{Mu: 0, Sigma: noiseSD, Src: rng}

	d := &groupedData{}
	for g, effect := range effects {
		label := fmt.Sprintf("G%02d", g+1)
		for i := 0; i < perGroup; i++ {
			x := rng.Float64()*4 - 2
			d.x = append(d.x, x)
			d.groups = append(d.groups, label)
			d.y = append(d.y, intercept+slope*x+effect+noise.Rand())
		}
	}
	return d
}

func TestFitRandomInterceptModel(t *testing.T) {
	effects := []float64{-0.9, -0.5, -0.1, 0.3, 0.6, 0.6}
	d := simulateGrouped(17, 30, 2.0, 1.0, 0.5, effects)

	design := NewDesign(len(d.y)).Intercept()
	require.NoError(t, design.Add("x", d.x))
	spec := Spec{
		Name:     "y ~ x + (1 | G)",
		Response: d.y,
		Fixed:    design,
		Random:   []RandomTerm{{Group: "G", Values: d.groups}},
	}

	fit, err := NewFitter(zap.NewNop()).Fit(spec)
	require.NoError(t, err)
	assert.True(t, fit.Converged, "message: %s", fit.Message)
	assert.Equal(t, len(d.y), fit.N)

	intercept, ok := fit.Coef("(Intercept)")
	require.True(t, ok)
	assert.InDelta(t, 2.0, intercept.Estimate, 0.7)

	slope, ok := fit.Coef("x")
	require.True(t, ok)
	assert.InDelta(t, 1.0, slope.Estimate, 0.15)
	assert.Greater(t, slope.StdErr, 0.0)
	assert.Less(t, slope.PValue, 0.001)

	assert.InDelta(t, 0.25, fit.ResidualVar, 0.15)
	require.Len(t, fit.Random, 1)
	assert.Equal(t, "G", fit.Random[0].Group)
	groupSD := fit.Random[0].StdDevs[0]
	assert.Greater(t, groupSD, 0.1)
	assert.Less(t, groupSD, 1.5)

	assert.False(t, math.IsNaN(fit.LogLik))
	assert.InDelta(t, -2*fit.LogLik, fit.Deviance, 1e-9)
	// p fixed effects + 1 variance parameter + residual.
	assert.Equal(t, 2+1+1, fit.Params)
}

func TestDrop1DetectsStrongEffect(t *testing.T) {
	effects := []float64{-0.4, -0.2, 0.0, 0.1, 0.2, 0.3}
	d := simulateGrouped(29, 30, 1.0, 1.0, 0.5, effects)

	design := NewDesign(len(d.y)).Intercept()
	require.NoError(t, design.Add("x", d.x))
	spec := Spec{
		Name:     "y ~ x + (1 | G)",
		Response: d.y,
		Fixed:    design,
		Random:   []RandomTerm{{Group: "G", Values: d.groups}},
	}

	fitter := NewFitter(zap.NewNop())
	full, err := fitter.Fit(spec)
	require.NoError(t, err)

	lrt, reduced, err := fitter.Drop1(spec, full, "x")
	require.NoError(t, err)
	require.NotNil(t, reduced)

	assert.Equal(t, 1, lrt.DF)
	assert.GreaterOrEqual(t, lrt.Chi2, 0.0)
	assert.Less(t, lrt.PValue, 0.001, "a unit slope on 180 observations must be detected")
	assert.GreaterOrEqual(t, reduced.Deviance, full.Deviance-1e-6, "the reduced model cannot fit better")
}

func TestLikelihoodRatioRejectsNonNested(t *testing.T) {
	effects := []float64{-0.1, 0.1}
	d := simulateGrouped(3, 20, 0, 0.5, 0.5, effects)

	design := NewDesign(len(d.y)).Intercept()
	require.NoError(t, design.Add("x", d.x))
	spec := Spec{Name: "m", Response: d.y, Fixed: design,
		Random: []RandomTerm{{Group: "G", Values: d.groups}}}

	fitter := NewFitter(zap.NewNop())
	fit, err := fitter.Fit(spec)
	require.NoError(t, err)

	_, err = LikelihoodRatio(fit, fit)
	assert.Error(t, err, "a model is not nested in itself")
}

func TestFitStructuralErrors(t *testing.T) {
	fitter := NewFitter(zap.NewNop())

	design := NewDesign(2).Intercept()
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty response", Spec{Name: "m", Fixed: design}},
		{"no random terms", Spec{Name: "m", Response: []float64{1, 2}, Fixed: design}},
		{"too few observations", Spec{
			Name: "m", Response: []float64{1, 2}, Fixed: mustDesign(t, 2, 2),
			Random: []RandomTerm{{Group: "G", Values: []string{"a", "b"}}},
		}},
		{"group label mismatch", Spec{
			Name: "m", Response: []float64{1, 2}, Fixed: design,
			Random: []RandomTerm{{Group: "G", Values: []string{"a"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fitter.Fit(tt.spec)
			assert.Error(t, err)
		})
	}
}

func mustDesign(t *testing.T, n, extra int) *Design {
	t.Helper()
	d := NewDesign(n).Intercept()
	for i := 0; i < extra-1; i++ {
		col := make([]float64, n)
		for j := range col {
			col[j] = float64(i*n + j)
		}
		require.NoError(t, d.Add(fmt.Sprintf("c%d", i), col))
	}
	return d
}

func TestTrendsAtModeratorLevels(t *testing.T) {
	// Slope 1.5 under condition A, 0.5 under B, ten clusters.
	rng := rand.New(rand.NewPCG(41, 99))
	noise := distuv.Normal{Mu: 0, Sigma: 0.4, Src: rng}

	var y, x []float64
	var groups, mods []string
	for c := 0; c < 10; c++ {
		label := fmt.Sprintf("C%02d", c+1)
		clusterEffect := float64(c%5-2) * 0.1
		for i := 0; i < 30; i++ {
			xi := rng.Float64()*4 - 2
			mod := "A"
			slope := 1.5
			if i%2 == 1 {
				mod = "B"
				slope = 0.5
			}
			x = append(x, xi)
			groups = append(groups, label)
			mods = append(mods, mod)
			y = append(y, 1.0+slope*xi+clusterEffect+noise.Rand())
		}
	}

	coding, err := SumCode("Mod", mods)
	require.NoError(t, err)

	design := NewDesign(len(y)).Intercept()
	require.NoError(t, design.Add("x", x))
	require.NoError(t, design.AddFactor(coding))
	require.NoError(t, design.AddInteraction("x", x, coding))

	spec := Spec{
		Name:     "y ~ x * Mod + (1 | C)",
		Response: y,
		Fixed:    design,
		Random:   []RandomTerm{{Group: "C", Values: groups}},
	}
	fit, err := NewFitter(zap.NewNop()).Fit(spec)
	require.NoError(t, err)

	trends, err := fit.TrendsAt("x", coding)
	require.NoError(t, err)
	require.Len(t, trends, 2)

	assert.Equal(t, "A", trends[0].Level)
	assert.InDelta(t, 1.5, trends[0].Estimate, 0.2)
	assert.Equal(t, "B", trends[1].Level)
	assert.InDelta(t, 0.5, trends[1].Estimate, 0.2)
	for _, tr := range trends {
		assert.Greater(t, tr.StdErr, 0.0)
		assert.Less(t, tr.PValue, 0.01)
	}
}

func TestTrendsAtMissingTerm(t *testing.T) {
	effects := []float64{-0.1, 0.1}
	d := simulateGrouped(5, 15, 0, 1, 0.5, effects)

	design := NewDesign(len(d.y)).Intercept()
	require.NoError(t, design.Add("x", d.x))
	spec := Spec{Name: "m", Response: d.y, Fixed: design,
		Random: []RandomTerm{{Group: "G", Values: d.groups}}}
	fit, err := NewFitter(zap.NewNop()).Fit(spec)
	require.NoError(t, err)

	coding, err := SumCode("Mod", []string{"A", "B", "A", "B"})
	require.NoError(t, err)
	_, err = fit.TrendsAt("x", coding)
	assert.Error(t, err, "the fit has no interaction columns for the moderator")
}
