package lmm

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// LRTResult is a likelihood-ratio comparison of two nested ML fits.
type LRTResult struct {
	Full    string  `json:"full"`
	Reduced string  `json:"reduced"`
	Chi2    float64 `json:"chi2"`
	DF      int     `json:"df"`
	PValue  float64 `json:"pValue"`
	Warning string  `json:"warning,omitempty"` // set when either fit did not converge
}

// LikelihoodRatio compares a full fit against a nested reduced fit. The
// chi-squared statistic is clamped at zero: a numerically better reduced
// deviance means the statistic carries no evidence, not that the test is
// invalid. Convergence problems in either fit are carried as a warning, the
// comparison itself still runs.
func LikelihoodRatio(full, reduced *Fit) (*LRTResult, error) {
	df := full.Params - reduced.Params
	if df <= 0 {
		return nil, fmt.Errorf("models are not nested: %q has %d parameters, %q has %d",
			full.Name, full.Params, reduced.Name, reduced.Params)
	}
	if full.N != reduced.N {
		return nil, fmt.Errorf("models were fitted to different data: %d vs %d observations", full.N, reduced.N)
	}

	chi2 := reduced.Deviance - full.Deviance
	if chi2 < 0 {
		chi2 = 0
	}

	result := &LRTResult{
		Full:    full.Name,
		Reduced: reduced.Name,
		Chi2:    chi2,
		DF:      df,
		PValue:  distuv.ChiSquared{K: float64(df)}.Survival(chi2),
	}
	switch {
	case !full.Converged && !reduced.Converged:
		result.Warning = "neither model converged"
	case !full.Converged:
		result.Warning = fmt.Sprintf("full model %q did not converge", full.Name)
	case !reduced.Converged:
		result.Warning = fmt.Sprintf("reduced model %q did not converge", reduced.Name)
	}

	return result, nil
}

// Drop1 refits the model without one fixed-effects column and tests the
// deletion by likelihood ratio, the single-term analog of a drop1 table.
func (f *Fitter) Drop1(spec Spec, full *Fit, column string) (*LRTResult, *Fit, error) {
	reducedDesign, err := spec.Fixed.Without(column)
	if err != nil {
		return nil, nil, err
	}
	reducedSpec := Spec{
		Name:     fmt.Sprintf("%s - %s", spec.Name, column),
		Response: spec.Response,
		Fixed:    reducedDesign,
		Random:   spec.Random,
	}
	reduced, err := f.Fit(reducedSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("refit without %q: %w", column, err)
	}
	lrt, err := LikelihoodRatio(full, reduced)
	if err != nil {
		return nil, nil, err
	}
	return lrt, reduced, nil
}
