package lmm

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// Spec declares one model: a response, a fixed-effects design, and at least
// one random term.
type Spec struct {
	Name     string
	Response []float64
	Fixed    *Design
	Random   []RandomTerm
}

// Options tunes the deviance optimization.
type Options struct {
	MaxIterations int // Nelder-Mead iteration cap
}

// DefaultOptions returns the fitter defaults.
func DefaultOptions() Options {
	return Options{MaxIterations: 2000}
}

// Fitter fits mixed models by maximum likelihood.
type Fitter struct {
	logger *zap.Logger
	opts   Options
}

// NewFitter builds a fitter with default options.
func NewFitter(logger *zap.Logger) *Fitter {
	return &Fitter{logger: logger, opts: DefaultOptions()}
}

// NewFitterWithOptions builds a fitter with explicit options.
func NewFitterWithOptions(logger *zap.Logger, opts Options) *Fitter {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	return &Fitter{logger: logger, opts: opts}
}

// termLayout places one random term inside Z and the theta vector.
type termLayout struct {
	group    string
	names    []string
	k        int // effects per level: intercept + slopes
	levels   int
	zOffset  int
	thetaOff int
	thetaLen int
}

// workspace holds the precomputed cross-products the profiled deviance is
// evaluated against.
type workspace struct {
	n, p, q  int
	layouts  []termLayout
	ztz      *mat.Dense // q x q
	ztx      *mat.Dense // q x p
	zty      *mat.VecDense
	xtx      *mat.Dense // p x p
	xty      *mat.VecDense
	yty      float64
	thetaDim int
}

// solveState is the by-product of one deviance evaluation, kept for the
// final extraction at the optimum.
type solveState struct {
	sol     *mat.VecDense // [u; beta]
	chol    *mat.Cholesky // of the augmented system
	lambda  *mat.Dense    // q x q relative covariance factor
	rss     float64       // penalized residual sum of squares
	logDetM float64
}

// Fit estimates the model. Structural problems (dimension mismatches, a
// design that is singular at the starting point) are errors; an optimizer
// that stops without converging yields a Fit with Converged=false and the
// stop reason in Message.
func (f *Fitter) Fit(spec Spec) (*Fit, error) {
	ws, err := newWorkspace(spec)
	if err != nil {
		return nil, err
	}

	theta0 := make([]float64, ws.thetaDim)
	for _, layout := range ws.layouts {
		// Unit diagonal, zero covariance start.
		off := layout.thetaOff
		for i := 0; i < layout.k; i++ {
			theta0[off] = 1
			off += layout.k - i
		}
	}

	if dev, _ := ws.deviance(theta0); math.IsInf(dev, 1) {
		return nil, fmt.Errorf("model %q: design is singular at the starting point", spec.Name)
	}

	problem := optimize.Problem{Func: func(theta []float64) float64 {
		dev, _ := ws.deviance(theta)
		return dev
	}}
	settings := &optimize.Settings{
		MajorIterations: f.opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 200,
		},
	}

	result, optErr := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})

	theta := theta0
	converged := false
	message := ""
	switch {
	case result == nil:
		message = fmt.Sprintf("optimizer failed: %v", optErr)
	default:
		theta = result.X
		switch result.Status {
		case optimize.FunctionConvergence, optimize.MethodConverge, optimize.GradientThreshold:
			converged = optErr == nil
			if optErr != nil {
				message = fmt.Sprintf("optimizer error: %v", optErr)
			}
		default:
			message = fmt.Sprintf("optimizer stopped: %s", result.Status)
		}
	}

	dev, state := ws.deviance(theta)
	if state == nil {
		return nil, fmt.Errorf("model %q: deviance undefined at the optimizer solution", spec.Name)
	}

	fit, err := ws.extract(spec, theta, dev, state)
	if err != nil {
		return nil, err
	}
	fit.Converged = converged
	fit.Message = message

	if !converged {
		f.logger.Warn("Mixed model did not converge",
			zap.String("model", spec.Name),
			zap.String("reason", message))
	} else {
		f.logger.Debug("Mixed model fitted",
			zap.String("model", spec.Name),
			zap.Float64("deviance", dev))
	}

	return fit, nil
}

// newWorkspace validates the spec and precomputes the cross-products.
func newWorkspace(spec Spec) (*workspace, error) {
	n := len(spec.Response)
	if n == 0 {
		return nil, fmt.Errorf("model %q: empty response", spec.Name)
	}
	if spec.Fixed == nil || spec.Fixed.Columns() == 0 {
		return nil, fmt.Errorf("model %q: empty fixed-effects design", spec.Name)
	}
	if spec.Fixed.Rows() != n {
		return nil, fmt.Errorf("model %q: design has %d rows for %d responses", spec.Name, spec.Fixed.Rows(), n)
	}
	if len(spec.Random) == 0 {
		return nil, fmt.Errorf("model %q: at least one random term is required", spec.Name)
	}
	p := spec.Fixed.Columns()
	if n <= p {
		return nil, fmt.Errorf("model %q: %d observations cannot identify %d fixed effects", spec.Name, n, p)
	}

	ws := &workspace{n: n, p: p}
	for _, term := range spec.Random {
		if err := term.validate(n); err != nil {
			return nil, fmt.Errorf("model %q: %w", spec.Name, err)
		}
		levels, _ := term.levelIndex()
		k := 1 + len(term.Slopes)
		layout := termLayout{
			group:    term.Group,
			names:    term.EffectNames(),
			k:        k,
			levels:   len(levels),
			zOffset:  ws.q,
			thetaOff: ws.thetaDim,
			thetaLen: k * (k + 1) / 2,
		}
		ws.layouts = append(ws.layouts, layout)
		ws.q += len(levels) * k
		ws.thetaDim += layout.thetaLen
	}

	// Dense X and Z. Z is sparse by construction but stays dense here: the
	// aggregate designs top out at a few hundred random-effect columns.
	x := mat.NewDense(n, p, nil)
	for j, col := range spec.Fixed.cols {
		for i, v := range col {
			x.Set(i, j, v)
		}
	}
	z := mat.NewDense(n, ws.q, nil)
	for ti, term := range spec.Random {
		layout := ws.layouts[ti]
		_, index := term.levelIndex()
		for i := 0; i < n; i++ {
			base := layout.zOffset + index[term.Values[i]]*layout.k
			z.Set(i, base, 1)
			for s, slope := range term.Slopes {
				z.Set(i, base+1+s, slope[i])
			}
		}
	}
	y := mat.NewVecDense(n, nil)
	for i, v := range spec.Response {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("model %q: response %d is not finite", spec.Name, i)
		}
		y.SetVec(i, v)
	}

	ws.ztz = &mat.Dense{}
	ws.ztz.Mul(z.T(), z)
	ws.ztx = &mat.Dense{}
	ws.ztx.Mul(z.T(), x)
	ws.zty = mat.NewVecDense(ws.q, nil)
	ws.zty.MulVec(z.T(), y)
	ws.xtx = &mat.Dense{}
	ws.xtx.Mul(x.T(), x)
	ws.xty = mat.NewVecDense(p, nil)
	ws.xty.MulVec(x.T(), y)
	ws.yty = mat.Dot(y, y)

	return ws, nil
}

// lambda materializes the block-diagonal relative covariance factor for a
// theta vector: per term, a lower-triangular k x k block in column-major
// order of the packed theta entries, repeated for every level.
func (ws *workspace) lambda(theta []float64) *mat.Dense {
	l := mat.NewDense(ws.q, ws.q, nil)
	for _, layout := range ws.layouts {
		block := make([][]float64, layout.k)
		for i := range block {
			block[i] = make([]float64, layout.k)
		}
		idx := layout.thetaOff
		for col := 0; col < layout.k; col++ {
			for row := col; row < layout.k; row++ {
				block[row][col] = theta[idx]
				idx++
			}
		}
		for level := 0; level < layout.levels; level++ {
			base := layout.zOffset + level*layout.k
			for row := 0; row < layout.k; row++ {
				for col := 0; col <= row; col++ {
					l.Set(base+row, base+col, block[row][col])
				}
			}
		}
	}
	return l
}

// deviance evaluates the profiled ML deviance at theta. An indefinite or
// singular system yields +Inf and a nil state, which steers the optimizer
// away.
func (ws *workspace) deviance(theta []float64) (float64, *solveState) {
	l := ws.lambda(theta)

	// M = L' Z'Z L + I
	var t1, m mat.Dense
	t1.Mul(ws.ztz, l)
	m.Mul(l.T(), &t1)
	for i := 0; i < ws.q; i++ {
		m.Set(i, i, m.At(i, i)+1)
	}

	// L' Z'X and L' Z'y
	var ltZtX mat.Dense
	ltZtX.Mul(l.T(), ws.ztx)
	ltZty := mat.NewVecDense(ws.q, nil)
	ltZty.MulVec(l.T(), ws.zty)

	// Augmented normal equations over (u, beta).
	dim := ws.q + ws.p
	aug := mat.NewSymDense(dim, nil)
	for i := 0; i < ws.q; i++ {
		for j := i; j < ws.q; j++ {
			aug.SetSym(i, j, m.At(i, j))
		}
		for j := 0; j < ws.p; j++ {
			aug.SetSym(i, ws.q+j, ltZtX.At(i, j))
		}
	}
	for i := 0; i < ws.p; i++ {
		for j := i; j < ws.p; j++ {
			aug.SetSym(ws.q+i, ws.q+j, ws.xtx.At(i, j))
		}
	}

	chol := &mat.Cholesky{}
	if ok := chol.Factorize(aug); !ok {
		return math.Inf(1), nil
	}

	rhs := mat.NewVecDense(dim, nil)
	for i := 0; i < ws.q; i++ {
		rhs.SetVec(i, ltZty.AtVec(i))
	}
	for i := 0; i < ws.p; i++ {
		rhs.SetVec(ws.q+i, ws.xty.AtVec(i))
	}

	sol := mat.NewVecDense(dim, nil)
	if err := chol.SolveVecTo(sol, rhs); err != nil {
		return math.Inf(1), nil
	}

	rss := ws.yty - mat.Dot(sol, rhs)
	if rss <= 0 || math.IsNaN(rss) {
		return math.Inf(1), nil
	}

	// The leading q x q block of the augmented factor is the factor of M.
	var lower mat.TriDense
	chol.LTo(&lower)
	logDetM := 0.0
	for i := 0; i < ws.q; i++ {
		logDetM += 2 * math.Log(lower.At(i, i))
	}

	nf := float64(ws.n)
	dev := logDetM + nf*(1+math.Log(2*math.Pi*rss/nf))

	return dev, &solveState{sol: sol, chol: chol, lambda: l, rss: rss, logDetM: logDetM}
}

// extract turns the solution at the optimum into a Fit.
func (ws *workspace) extract(spec Spec, theta []float64, dev float64, state *solveState) (*Fit, error) {
	nf := float64(ws.n)
	sigma2 := state.rss / nf

	// Coefficient covariance: sigma^2 times the trailing p x p block of the
	// inverse augmented system (the inverse Schur complement of M).
	var inv mat.SymDense
	if err := state.chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("model %q: covariance extraction failed: %w", spec.Name, err)
	}
	covBeta := mat.NewSymDense(ws.p, nil)
	for i := 0; i < ws.p; i++ {
		for j := i; j < ws.p; j++ {
			covBeta.SetSym(i, j, sigma2*inv.At(ws.q+i, ws.q+j))
		}
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	names := spec.Fixed.Names()
	coefs := make([]Coefficient, ws.p)
	for j := 0; j < ws.p; j++ {
		est := state.sol.AtVec(ws.q + j)
		se := math.Sqrt(covBeta.At(j, j))
		c := Coefficient{Name: names[j], Estimate: est, StdErr: se}
		if se > 0 {
			c.Z = est / se
			c.PValue = 2 * normal.Survival(math.Abs(c.Z))
		}
		coefs[j] = c
	}

	randoms := make([]RandomComponent, len(ws.layouts))
	for ti, layout := range ws.layouts {
		block := mat.NewDense(layout.k, layout.k, nil)
		idx := layout.thetaOff
		for col := 0; col < layout.k; col++ {
			for row := col; row < layout.k; row++ {
				block.Set(row, col, theta[idx])
				idx++
			}
		}
		var cov mat.Dense
		cov.Mul(block, block.T())
		cov.Scale(sigma2, &cov)

		covOut := make([][]float64, layout.k)
		sds := make([]float64, layout.k)
		for i := 0; i < layout.k; i++ {
			covOut[i] = make([]float64, layout.k)
			for j := 0; j < layout.k; j++ {
				covOut[i][j] = cov.At(i, j)
			}
			sds[i] = math.Sqrt(cov.At(i, i))
		}
		randoms[ti] = RandomComponent{
			Group:      layout.group,
			Names:      layout.names,
			Covariance: covOut,
			StdDevs:    sds,
		}
	}

	return &Fit{
		Name:         spec.Name,
		N:            ws.n,
		Coefficients: coefs,
		Random:       randoms,
		ResidualVar:  sigma2,
		LogLik:       -dev / 2,
		Deviance:     dev,
		Params:       ws.p + ws.thetaDim + 1,
		coefNames:    names,
		covBeta:      covBeta,
	}, nil
}
