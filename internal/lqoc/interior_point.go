package lqoc

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/qp"
)

// InteriorPointSolver transcribes the problem into a dense QP over
//
//	z = [δu_0, δx_1, δu_1, δx_2, ..., δu_{N-1}, δx_N]
//
// with the dynamics as equality rows and box bounds as variable bounds.
type InteriorPointSolver struct {
	solution
	qp *qp.Solver
}

func NewInteriorPointSolver(opts ...Option) *InteriorPointSolver {
	o := buildOptions(opts)
	s := qp.NewSolver(o.logger)
	if o.maxIterations > 0 {
		s.MaxIterations = o.maxIterations
	}
	if o.tolerance > 0 {
		s.Tolerance = o.tolerance
	}
	return &InteriorPointSolver{solution: solution{logger: o.logger}, qp: s}
}

// layout maps stage variables to their offsets in z.
type layout struct {
	n, nx, nu int
}

func (l layout) size() int     { return l.n * (l.nu + l.nx) }
func (l layout) u(k int) int   { return k * (l.nu + l.nx) }
func (l layout) x(k int) int   { return k*(l.nu+l.nx) - l.nx }
func (l layout) rows() int     { return l.n * l.nx }
func (l layout) row(k int) int { return k * l.nx }

func setBlock(dst *mat.Dense, r, c int, src mat.Matrix) {
	rows, cols := src.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(r+i, c+j, dst.At(r+i, c+j)+src.At(i, j))
		}
	}
}

func setVec(dst *mat.VecDense, off int, src mat.Vector) {
	for i := 0; i < src.Len(); i++ {
		dst.SetVec(off+i, dst.AtVec(off+i)+src.AtVec(i))
	}
}

// transcribe builds the QP. δx_0 = 0 drops out, so stage 0 contributes only
// its control terms.
func transcribe(p *Problem) (*qp.Problem, layout, error) {
	l := layout{n: p.n, nx: p.nx, nu: p.nu}
	n, m := l.size(), l.rows()

	H := mat.NewDense(n, n, nil)
	g := mat.NewVecDense(n, nil)
	E := mat.NewDense(m, n, nil)
	e := mat.NewVecDense(m, nil)

	for k := 0; k < p.n; k++ {
		iu := l.u(k)
		setBlock(H, iu, iu, p.R[k])
		setVec(g, iu, p.Rv[k])
		if k > 0 {
			ix := l.x(k)
			setBlock(H, ix, ix, p.Q[k])
			setBlock(H, iu, ix, p.P[k])
			setBlock(H, ix, iu, p.P[k].T())
			setVec(g, ix, p.Qv[k])
		}

		// δx_{k+1} - A δx_k - B δu_k = b_k
		row := l.row(k)
		for i := 0; i < p.nx; i++ {
			E.Set(row+i, l.x(k+1)+i, 1)
		}
		var negB mat.Dense
		negB.Scale(-1, p.B[k])
		setBlock(E, row, iu, &negB)
		if k > 0 {
			var negA mat.Dense
			negA.Scale(-1, p.A[k])
			setBlock(E, row, l.x(k), &negA)
		}
		setVec(e, row, p.Bias[k])
	}
	setBlock(H, l.x(p.n), l.x(p.n), p.Q[p.n])
	setVec(g, l.x(p.n), p.Qv[p.n])

	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := range lower {
		lower[i], upper[i] = math.Inf(-1), math.Inf(1)
	}
	if lb, ub, ok := p.ControlBounds(); ok {
		for k := 0; k < p.n; k++ {
			for i := 0; i < p.nu; i++ {
				nominal := p.U[k].AtVec(i)
				lower[l.u(k)+i] = normalizeBound(lb[i]) - nominal
				upper[l.u(k)+i] = normalizeBound(ub[i]) - nominal
			}
		}
	}
	if lb, ub, ok := p.StateBounds(); ok {
		for k := 1; k <= p.n; k++ {
			for i := 0; i < p.nx; i++ {
				nominal := p.X[k].AtVec(i)
				lower[l.x(k)+i] = normalizeBound(lb[i]) - nominal
				upper[l.x(k)+i] = normalizeBound(ub[i]) - nominal
			}
		}
	}

	prob, err := qp.NewProblem(symmetric(H), g, E, e, lower, upper)
	return prob, l, err
}

func (s *InteriorPointSolver) Solve() error {
	s.clear()
	p := s.problem
	if p == nil {
		return ErrNoProblem
	}
	if err := p.Validate(); err != nil {
		return &SolveError{Strategy: "interior_point", Stage: -1, Err: err}
	}

	prob, l, err := transcribe(p)
	if err != nil {
		return err
	}
	res, err := s.qp.Solve(prob)
	if err != nil {
		stage := -1
		var qe *qp.SolveError
		if errors.As(err, &qe) {
			stage = qe.Iteration
		}
		return &SolveError{Strategy: "interior_point", Stage: stage, Err: err}
	}

	dx := make([]*mat.VecDense, p.n+1)
	du := make([]*mat.VecDense, p.n)
	dx[0] = mat.NewVecDense(p.nx, nil)
	sigmaX := make([][]float64, p.n+1)
	sigmaU := make([][]float64, p.n)
	for k := 0; k < p.n; k++ {
		du[k] = mat.VecDenseCopyOf(res.Z.SliceVec(l.u(k), l.u(k)+p.nu))
		sigmaU[k] = res.Sigma[l.u(k) : l.u(k)+p.nu]
		dx[k+1] = mat.VecDenseCopyOf(res.Z.SliceVec(l.x(k+1), l.x(k+1)+p.nx))
		sigmaX[k+1] = res.Sigma[l.x(k+1) : l.x(k+1)+p.nx]
	}

	// Gains of the barrier-augmented problem: the local linear response of
	// the constrained solution to a perturbation of the state.
	K, _, err := backward(p, sigmaX, sigmaU)
	if err != nil {
		return err
	}

	s.store(dx, du, K)
	s.logger.Debugw("interior point solve", "stages", p.n, "iterations", res.Iterations, "objective", p.Objective(dx, du))
	return nil
}
