package lmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Trend is the estimated slope of a fixed term at one level of a moderator,
// with centered covariates held at zero. No multiplicity adjustment is
// applied.
type Trend struct {
	Level    string  `json:"level"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"stdErr"`
	Z        float64 `json:"z"`
	PValue   float64 `json:"pValue"`
}

// TrendsAt extracts the per-level slope of term from a fit whose design
// contains the term's main effect plus its interactions with the sum-coded
// moderator (columns named "term:Factor[level]", as AddInteraction builds
// them). The slope at a level is the main effect plus that level's contrast
// row applied to the interaction coefficients; its standard error comes from
// the coefficient covariance.
func (f *Fit) TrendsAt(term string, coding *SumCoding) ([]Trend, error) {
	if f.covBeta == nil {
		return nil, fmt.Errorf("fit %q carries no coefficient covariance", f.Name)
	}

	index := make(map[string]int, len(f.coefNames))
	for i, name := range f.coefNames {
		index[name] = i
	}
	mainIdx, ok := index[term]
	if !ok {
		return nil, fmt.Errorf("fit %q has no term %q", f.Name, term)
	}
	interIdx := make([]int, 0, len(coding.Levels())-1)
	for _, colName := range coding.ColumnNames() {
		idx, ok := index[term+":"+colName]
		if !ok {
			return nil, fmt.Errorf("fit %q has no interaction column %q", f.Name, term+":"+colName)
		}
		interIdx = append(interIdx, idx)
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	p := len(f.coefNames)
	trends := make([]Trend, 0, len(coding.Levels()))

	for _, level := range coding.Levels() {
		row, err := coding.Row(level)
		if err != nil {
			return nil, err
		}
		contrast := mat.NewVecDense(p, nil)
		contrast.SetVec(mainIdx, 1)
		for j, idx := range interIdx {
			contrast.SetVec(idx, row[j])
		}

		est := 0.0
		for j, c := range f.Coefficients {
			est += contrast.AtVec(j) * c.Estimate
		}

		tmp := mat.NewVecDense(p, nil)
		tmp.MulVec(f.covBeta, contrast)
		variance := mat.Dot(contrast, tmp)
		se := math.Sqrt(math.Max(variance, 0))

		trend := Trend{Level: level, Estimate: est, StdErr: se}
		if se > 0 {
			trend.Z = est / se
			trend.PValue = 2 * normal.Survival(math.Abs(trend.Z))
		}
		trends = append(trends, trend)
	}

	return trends, nil
}
