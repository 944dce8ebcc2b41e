// Package lmm fits linear mixed-effects models by maximum likelihood.
//
// The fitting strategy follows the penalized least-squares formulation: for a
// candidate relative covariance factor (a lower-triangular block per random
// term, repeated over the term's levels) the deviance is profiled over the
// fixed effects, the random-effect modes, and the residual variance, leaving
// a low-dimensional derivative-free optimization over the factor entries.
// Comparisons between nested fits use the likelihood-ratio chi-squared
// reference, and post-hoc linear trends are linear combinations of the fixed
// coefficients with standard errors from their covariance.
package lmm

import (
	"fmt"
	"sort"
)

// Design is a named-column fixed-effects design matrix under construction.
type Design struct {
	n     int
	names []string
	cols  [][]float64
}

// NewDesign starts a design for n observations.
func NewDesign(n int) *Design {
	return &Design{n: n}
}

// Intercept appends a constant column of ones.
func (d *Design) Intercept() *Design {
	ones := make([]float64, d.n)
	for i := range ones {
		ones[i] = 1
	}
	d.names = append(d.names, "(Intercept)")
	d.cols = append(d.cols, ones)
	return d
}

// Add appends a numeric column. The column is copied.
func (d *Design) Add(name string, values []float64) error {
	if len(values) != d.n {
		return fmt.Errorf("column %q has %d values, design has %d rows", name, len(values), d.n)
	}
	col := make([]float64, d.n)
	copy(col, values)
	d.names = append(d.names, name)
	d.cols = append(d.cols, col)
	return nil
}

// AddFactor appends every contrast column of a sum coding, named
// "Factor[level]".
func (d *Design) AddFactor(coding *SumCoding) error {
	cols := coding.Columns()
	names := coding.ColumnNames()
	for i, col := range cols {
		if err := d.Add(names[i], col); err != nil {
			return err
		}
	}
	return nil
}

// AddInteraction appends the elementwise product of a numeric column with
// every contrast column of a sum coding, named "name:Factor[level]".
func (d *Design) AddInteraction(name string, values []float64, coding *SumCoding) error {
	cols := coding.Columns()
	names := coding.ColumnNames()
	for i, col := range cols {
		if err := d.Add(name+":"+names[i], Product(values, col)); err != nil {
			return err
		}
	}
	return nil
}

// Without returns a copy of the design with one named column removed.
func (d *Design) Without(name string) (*Design, error) {
	out := &Design{n: d.n}
	found := false
	for i, col := range d.cols {
		if d.names[i] == name {
			found = true
			continue
		}
		out.names = append(out.names, d.names[i])
		out.cols = append(out.cols, col)
	}
	if !found {
		return nil, fmt.Errorf("design has no column %q", name)
	}
	return out, nil
}

// Names returns the column names in order.
func (d *Design) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Rows returns the number of observations.
func (d *Design) Rows() int { return d.n }

// Columns returns the number of design columns.
func (d *Design) Columns() int { return len(d.cols) }

// Product is the elementwise product of two equal-length columns.
func Product(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}

// SumCoding is a sum-to-zero (deviation) contrast coding of a categorical
// column: a factor with L levels becomes L-1 columns, each 1 for its own
// level, -1 for the last level, 0 elsewhere. Coefficients then measure the
// deviation of a level from the grand mean, which is what the moderator
// analyses interpret.
type SumCoding struct {
	factor string
	levels []string
	values []string
}

// SumCode builds a sum-to-zero coding from raw categorical values. Levels
// are the sorted distinct values.
func SumCode(factor string, values []string) (*SumCoding, error) {
	seen := make(map[string]bool)
	levels := make([]string, 0)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	if len(levels) < 2 {
		return nil, fmt.Errorf("factor %q has %d level(s), need at least 2", factor, len(levels))
	}
	sort.Strings(levels)

	stored := make([]string, len(values))
	copy(stored, values)
	return &SumCoding{factor: factor, levels: levels, values: stored}, nil
}

// Factor returns the factor name.
func (s *SumCoding) Factor() string { return s.factor }

// Levels returns the factor levels in coding order.
func (s *SumCoding) Levels() []string {
	out := make([]string, len(s.levels))
	copy(out, s.levels)
	return out
}

// ColumnNames returns one name per contrast column.
func (s *SumCoding) ColumnNames() []string {
	names := make([]string, len(s.levels)-1)
	for i := 0; i < len(s.levels)-1; i++ {
		names[i] = fmt.Sprintf("%s[%s]", s.factor, s.levels[i])
	}
	return names
}

// Columns materializes the contrast columns for the coded observations.
func (s *SumCoding) Columns() [][]float64 {
	k := len(s.levels) - 1
	cols := make([][]float64, k)
	for i := range cols {
		cols[i] = make([]float64, len(s.values))
	}
	index := make(map[string]int, len(s.levels))
	for i, l := range s.levels {
		index[l] = i
	}
	for row, v := range s.values {
		li := index[v]
		if li == len(s.levels)-1 {
			for i := 0; i < k; i++ {
				cols[i][row] = -1
			}
		} else {
			cols[li][row] = 1
		}
	}
	return cols
}

// Row returns the contrast values a single observation at the given level
// would carry, one per contrast column. Used to build trend contrasts.
func (s *SumCoding) Row(level string) ([]float64, error) {
	k := len(s.levels) - 1
	row := make([]float64, k)
	for i, l := range s.levels {
		if l != level {
			continue
		}
		if i == len(s.levels)-1 {
			for j := 0; j < k; j++ {
				row[j] = -1
			}
		} else {
			row[i] = 1
		}
		return row, nil
	}
	return nil, fmt.Errorf("factor %q has no level %q", s.factor, level)
}

// RandomTerm declares one random-effects term: a random intercept for every
// level of Group, plus an optional random slope for each listed covariate,
// all correlated within the term.
type RandomTerm struct {
	Group      string      // grouping factor name, e.g. "Lab"
	Values     []string    // group label per observation
	SlopeNames []string    // covariate names, may be empty
	Slopes     [][]float64 // covariate values, one slice per name
}

// EffectNames returns the per-level effect names: intercept first, then the
// slopes, matching the covariance ordering in the fitted components.
func (r *RandomTerm) EffectNames() []string {
	names := make([]string, 0, 1+len(r.SlopeNames))
	names = append(names, "(Intercept)")
	names = append(names, r.SlopeNames...)
	return names
}

func (r *RandomTerm) validate(n int) error {
	if len(r.Values) != n {
		return fmt.Errorf("random term %q has %d group labels, design has %d rows", r.Group, len(r.Values), n)
	}
	if len(r.Slopes) != len(r.SlopeNames) {
		return fmt.Errorf("random term %q has %d slope columns for %d names", r.Group, len(r.Slopes), len(r.SlopeNames))
	}
	for i, col := range r.Slopes {
		if len(col) != n {
			return fmt.Errorf("random term %q slope %q has %d values, design has %d rows", r.Group, r.SlopeNames[i], len(col), n)
		}
	}
	return nil
}

// levels returns the sorted distinct group labels and a label->index map.
func (r *RandomTerm) levelIndex() ([]string, map[string]int) {
	seen := make(map[string]bool)
	levels := make([]string, 0)
	for _, v := range r.Values {
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	return levels, index
}
