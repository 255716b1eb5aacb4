// Package qp solves dense convex quadratic programs
//
//	minimize    ½ zᵀHz + gᵀz
//	subject to  E z = e
//	            lower ≤ z ≤ upper
//
// with a primal-dual path-following interior-point method. Infinite bounds
// are allowed and simply carry no multiplier.
package qp

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInfeasible    = errors.New("qp: problem is infeasible")
	ErrMaxIterations = errors.New("qp: iteration limit reached")
	ErrSingular      = errors.New("qp: KKT system is singular")
	ErrDimension     = errors.New("qp: dimension mismatch")
)

const (
	DefaultMaxIterations = 200
	DefaultTolerance     = 1e-8

	centering = 0.1
	boundary  = 0.995
	minStep   = 1e-12
)

type Problem struct {
	H *mat.SymDense
	G *mat.VecDense
	// E may be nil when there are no equality constraints.
	E *mat.Dense
	e *mat.VecDense

	Lower, Upper []float64
}

// NewProblem checks dimensions. Nil bound slices mean unbounded.
func NewProblem(H *mat.SymDense, g *mat.VecDense, E *mat.Dense, e *mat.VecDense, lower, upper []float64) (*Problem, error) {
	n := H.SymmetricDim()
	if g.Len() != n {
		return nil, fmt.Errorf("gradient has %d entries, want %d: %w", g.Len(), n, ErrDimension)
	}
	if E != nil {
		r, c := E.Dims()
		if c != n || e == nil || e.Len() != r {
			return nil, fmt.Errorf("equality constraints: %w", ErrDimension)
		}
	}
	if lower == nil {
		lower = fill(n, math.Inf(-1))
	}
	if upper == nil {
		upper = fill(n, math.Inf(1))
	}
	if len(lower) != n || len(upper) != n {
		return nil, fmt.Errorf("bounds: %w", ErrDimension)
	}
	return &Problem{H: H, G: g, E: E, e: e, Lower: lower, Upper: upper}, nil
}

func fill(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func (p *Problem) Dim() int { return p.G.Len() }

func (p *Problem) equalities() int {
	if p.E == nil {
		return 0
	}
	r, _ := p.E.Dims()
	return r
}

type Result struct {
	Z *mat.VecDense
	// Y holds the equality multipliers, sign convention Hz + g = Eᵀy + λl - λu.
	Y *mat.VecDense
	// Sigma is the barrier Hessian diagonal λl/sl + λu/su at the solution.
	Sigma      []float64
	Iterations int
}

type Solver struct {
	MaxIterations int
	Tolerance     float64
	logger        *zap.SugaredLogger
}

func NewSolver(logger *zap.SugaredLogger) *Solver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Solver{
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
		logger:        logger,
	}
}

// SolveError carries the iteration at which the solver gave up.
type SolveError struct {
	Iteration int
	Residual  float64
	Err       error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("qp: iteration %d (residual %.3e): %v", e.Iteration, e.Residual, e.Err)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

type iterate struct {
	z, y       *mat.VecDense
	lamL, lamU []float64
	hasL, hasU []bool
}

func (s *Solver) start(p *Problem) (*iterate, error) {
	n, m := p.Dim(), p.equalities()
	it := &iterate{
		z:    mat.NewVecDense(n, nil),
		y:    mat.NewVecDense(max(m, 1), nil),
		lamL: make([]float64, n),
		lamU: make([]float64, n),
		hasL: make([]bool, n),
		hasU: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		lo, hi := p.Lower[i], p.Upper[i]
		if lo > hi {
			return nil, fmt.Errorf("variable %d: lower %g > upper %g: %w", i, lo, hi, ErrInfeasible)
		}
		it.hasL[i] = !math.IsInf(lo, -1)
		it.hasU[i] = !math.IsInf(hi, 1)
		switch {
		case it.hasL[i] && it.hasU[i]:
			it.z.SetVec(i, lo+0.5*(hi-lo))
		case it.hasL[i]:
			it.z.SetVec(i, lo+1)
		case it.hasU[i]:
			it.z.SetVec(i, hi-1)
		}
		if it.hasL[i] {
			it.lamL[i] = 1
		}
		if it.hasU[i] {
			it.lamU[i] = 1
		}
	}
	return it, nil
}

// residuals returns the dual and primal residual vectors.
func (p *Problem) residuals(it *iterate) (*mat.VecDense, *mat.VecDense) {
	n := p.Dim()
	rd := mat.NewVecDense(n, nil)
	rd.MulVec(p.H, it.z)
	rd.AddVec(rd, p.G)
	if p.E != nil {
		var ety mat.VecDense
		ety.MulVec(p.E.T(), it.y)
		rd.SubVec(rd, &ety)
	}
	for i := 0; i < n; i++ {
		rd.SetVec(i, rd.AtVec(i)-it.lamL[i]+it.lamU[i])
	}

	if p.E == nil {
		return rd, nil
	}
	rp := mat.NewVecDense(p.equalities(), nil)
	rp.MulVec(p.E, it.z)
	rp.SubVec(rp, p.e)
	return rd, rp
}

func infNorm(v *mat.VecDense) float64 {
	if v == nil || v.Len() == 0 {
		return 0
	}
	return floats.Norm(v.RawVector().Data, math.Inf(1))
}

func (p *Problem) gaps(it *iterate) (sl, su []float64) {
	n := p.Dim()
	sl = make([]float64, n)
	su = make([]float64, n)
	for i := 0; i < n; i++ {
		if it.hasL[i] {
			sl[i] = it.z.AtVec(i) - p.Lower[i]
		}
		if it.hasU[i] {
			su[i] = p.Upper[i] - it.z.AtVec(i)
		}
	}
	return sl, su
}

func (it *iterate) complementarity(sl, su []float64) (float64, int) {
	total, count := 0.0, 0
	for i := range sl {
		if it.hasL[i] {
			total += sl[i] * it.lamL[i]
			count++
		}
		if it.hasU[i] {
			total += su[i] * it.lamU[i]
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return total / float64(count), count
}

// Solve minimizes p. Variables whose bounds coincide are pinned to that
// value and eliminated before the interior-point iteration; their Sigma is
// PinnedCurvature.
func (s *Solver) Solve(p *Problem) (*Result, error) {
	pinned := make([]bool, p.Dim())
	hasPinned := false
	for i := range pinned {
		lo, hi := p.Lower[i], p.Upper[i]
		if lo > hi {
			return nil, fmt.Errorf("variable %d: lower %g > upper %g: %w", i, lo, hi, ErrInfeasible)
		}
		if lo == hi {
			if math.IsInf(lo, 0) {
				return nil, fmt.Errorf("variable %d: pinned at %g: %w", i, lo, ErrInfeasible)
			}
			pinned[i], hasPinned = true, true
		}
	}
	if !hasPinned {
		return s.solve(p)
	}

	r, err := p.reduce(pinned, s.Tolerance)
	if err != nil {
		return nil, err
	}
	res := &Result{Y: mat.NewVecDense(max(p.equalities(), 1), nil)}
	if r.problem != nil {
		if res, err = s.solve(r.problem); err != nil {
			return nil, err
		}
	}
	return r.expand(p, res), nil
}

func (s *Solver) solve(p *Problem) (*Result, error) {
	it, err := s.start(p)
	if err != nil {
		return nil, err
	}
	n, m := p.Dim(), p.equalities()
	scale := 1 + math.Max(infNorm(p.G), infNorm(p.e))

	for iter := 0; iter < s.MaxIterations; iter++ {
		sl, su := p.gaps(it)
		mu, bounded := it.complementarity(sl, su)
		rd, rp := p.residuals(it)
		res := math.Max(infNorm(rd), infNorm(rp))

		s.logger.Debugw("qp iteration", "iter", iter, "residual", res, "mu", mu)
		if res <= s.Tolerance*scale && mu <= s.Tolerance {
			return it.result(sl, su, iter), nil
		}

		sigma := make([]float64, n)
		rhs := mat.NewVecDense(n+m, nil)
		target := centering * mu
		for i := 0; i < n; i++ {
			r := -rd.AtVec(i)
			if it.hasL[i] {
				sigma[i] += it.lamL[i] / sl[i]
				r += target/sl[i] - it.lamL[i]
			}
			if it.hasU[i] {
				sigma[i] += it.lamU[i] / su[i]
				r -= target/su[i] - it.lamU[i]
			}
			rhs.SetVec(i, r)
		}
		for j := 0; j < m; j++ {
			rhs.SetVec(n+j, -rp.AtVec(j))
		}

		K := mat.NewDense(n+m, n+m, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				K.Set(i, j, p.H.At(i, j))
			}
			K.Set(i, i, K.At(i, i)+sigma[i])
		}
		for j := 0; j < m; j++ {
			for i := 0; i < n; i++ {
				v := p.E.At(j, i)
				K.Set(n+j, i, v)
				K.Set(i, n+j, -v)
			}
		}

		var lu mat.LU
		lu.Factorize(K)
		step := mat.NewVecDense(n+m, nil)
		if err := lu.SolveVecTo(step, false, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
				return nil, &SolveError{Iteration: iter, Residual: res, Err: ErrSingular}
			}
		}

		dz := step.SliceVec(0, n)
		dLamL := make([]float64, n)
		dLamU := make([]float64, n)
		alphaP, alphaD := 1.0, 1.0
		for i := 0; i < n; i++ {
			d := dz.AtVec(i)
			if it.hasL[i] {
				dLamL[i] = (target - sl[i]*it.lamL[i] - it.lamL[i]*d) / sl[i]
				if d < 0 {
					alphaP = math.Min(alphaP, -boundary*sl[i]/d)
				}
				if dLamL[i] < 0 {
					alphaD = math.Min(alphaD, -boundary*it.lamL[i]/dLamL[i])
				}
			}
			if it.hasU[i] {
				dLamU[i] = (target - su[i]*it.lamU[i] + it.lamU[i]*d) / su[i]
				if d > 0 {
					alphaP = math.Min(alphaP, boundary*su[i]/d)
				}
				if dLamU[i] < 0 {
					alphaD = math.Min(alphaD, -boundary*it.lamU[i]/dLamU[i])
				}
			}
		}
		if bounded > 0 && alphaP < minStep && alphaD < minStep {
			return nil, &SolveError{Iteration: iter, Residual: res, Err: ErrInfeasible}
		}

		it.z.AddScaledVec(it.z, alphaP, dz)
		if m > 0 {
			it.y.AddScaledVec(it.y, alphaD, step.SliceVec(n, n+m))
		}
		for i := 0; i < n; i++ {
			it.lamL[i] += alphaD * dLamL[i]
			it.lamU[i] += alphaD * dLamU[i]
		}
		if !isFinite(it.z) {
			return nil, &SolveError{Iteration: iter, Residual: res, Err: ErrInfeasible}
		}
	}

	rd, rp := p.residuals(it)
	return nil, &SolveError{
		Iteration: s.MaxIterations,
		Residual:  math.Max(infNorm(rd), infNorm(rp)),
		Err:       ErrMaxIterations,
	}
}

func isFinite(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		if x := v.AtVec(i); math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (it *iterate) result(sl, su []float64, iter int) *Result {
	n := it.z.Len()
	sigma := make([]float64, n)
	for i := 0; i < n; i++ {
		if it.hasL[i] {
			sigma[i] += it.lamL[i] / sl[i]
		}
		if it.hasU[i] {
			sigma[i] += it.lamU[i] / su[i]
		}
	}
	return &Result{
		Z:          mat.VecDenseCopyOf(it.z),
		Y:          mat.VecDenseCopyOf(it.y),
		Sigma:      sigma,
		Iterations: iter,
	}
}
