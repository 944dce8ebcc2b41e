package lmm

import (
	"gonum.org/v1/gonum/mat"
)

// Coefficient is one estimated fixed effect with its Wald statistics. The
// p-value uses the standard normal reference.
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"stdErr"`
	Z        float64 `json:"z"`
	PValue   float64 `json:"pValue"`
}

// RandomComponent is the estimated covariance of one random term: variances
// on the diagonal, in EffectNames order.
type RandomComponent struct {
	Group      string      `json:"group"`
	Names      []string    `json:"names"`
	Covariance [][]float64 `json:"covariance"`
	StdDevs    []float64   `json:"stdDevs"`
}

// Fit is a fitted linear mixed-effects model. Converged=false fits still
// carry the best parameters found; callers decide whether to trust them and
// must surface the Message.
type Fit struct {
	Name         string            `json:"name"`
	N            int               `json:"n"`
	Coefficients []Coefficient     `json:"coefficients"`
	Random       []RandomComponent `json:"random"`
	ResidualVar  float64           `json:"residualVar"`
	LogLik       float64           `json:"logLik"`
	Deviance     float64           `json:"deviance"`
	Params       int               `json:"params"` // fixed + covariance + residual parameters
	Converged    bool              `json:"converged"`
	Message      string            `json:"message,omitempty"`

	coefNames []string
	covBeta   *mat.SymDense
}

// Coef looks up a fixed effect by design-column name.
func (f *Fit) Coef(name string) (Coefficient, bool) {
	for _, c := range f.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// CoefficientNames returns the design-column names in estimation order.
func (f *Fit) CoefficientNames() []string {
	out := make([]string, len(f.coefNames))
	copy(out, f.coefNames)
	return out
}
