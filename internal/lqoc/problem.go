package lqoc

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
)

// Bounds at or beyond this magnitude are treated as absent.
const Unbounded = 1e15

var (
	ErrHorizon   = errors.New("lqoc: horizon must be at least one stage")
	ErrDimension = errors.New("lqoc: dimension mismatch")
	ErrBounds    = errors.New("lqoc: lower bound exceeds upper bound")
)

// Problem is a linear-quadratic optimal control problem written in deviations
// δx = x - X[k], δu = u - U[k] from a nominal trajectory:
//
//	min  Σ_{k<N} ½δxᵀQδx + δuᵀPδx + ½δuᵀRδu + Qvᵀδx + Rvᵀδu + Qc
//	     + ½δx_Nᵀ Q_N δx_N + Qv_Nᵀ δx_N + Qc_N
//	s.t. δx_{k+1} = A δx_k + B δu_k + Bias_k,  δx_0 = 0
//
// Box bounds are stored in absolute coordinates.
//
// The stage slices are sized by NewProblem: entries may be written in place
// or replaced by same-shaped values, but the slices must not be reassigned or
// resliced. Solvers reject a problem that fails Validate.
type Problem struct {
	A, B []*mat.Dense
	Bias []*mat.VecDense

	Q  []*mat.Dense
	P  []*mat.Dense
	R  []*mat.Dense
	Qv []*mat.VecDense
	Rv []*mat.VecDense
	Qc []float64

	X []*mat.VecDense
	U []*mat.VecDense

	uLower, uUpper []float64
	xLower, xUpper []float64

	n, nx, nu int
}

func NewProblem(N, nx, nu int) (*Problem, error) {
	if N < 1 {
		return nil, ErrHorizon
	}
	if nx < 1 || nu < 1 {
		return nil, fmt.Errorf("nx=%d nu=%d: %w", nx, nu, ErrDimension)
	}
	p := &Problem{
		A:    make([]*mat.Dense, N),
		B:    make([]*mat.Dense, N),
		Bias: make([]*mat.VecDense, N),
		Q:    make([]*mat.Dense, N+1),
		P:    make([]*mat.Dense, N),
		R:    make([]*mat.Dense, N),
		Qv:   make([]*mat.VecDense, N+1),
		Rv:   make([]*mat.VecDense, N),
		Qc:   make([]float64, N+1),
		X:    make([]*mat.VecDense, N+1),
		U:    make([]*mat.VecDense, N),
		n:    N,
		nx:   nx,
		nu:   nu,
	}
	for k := 0; k <= N; k++ {
		p.Q[k] = mat.NewDense(nx, nx, nil)
		p.Qv[k] = mat.NewVecDense(nx, nil)
		p.X[k] = mat.NewVecDense(nx, nil)
		if k == N {
			break
		}
		p.A[k] = mat.NewDense(nx, nx, nil)
		p.B[k] = mat.NewDense(nx, nu, nil)
		p.Bias[k] = mat.NewVecDense(nx, nil)
		p.P[k] = mat.NewDense(nu, nx, nil)
		p.R[k] = mat.NewDense(nu, nu, nil)
		p.Rv[k] = mat.NewVecDense(nu, nil)
		p.U[k] = mat.NewVecDense(nu, nil)
	}
	return p, nil
}

func (p *Problem) N() int          { return p.n }
func (p *Problem) StateDim() int   { return p.nx }
func (p *Problem) ControlDim() int { return p.nu }

// Validate checks that every stage slice still has its NewProblem length and
// every entry its NewProblem shape.
func (p *Problem) Validate() error {
	var err error
	lengths := []struct {
		name      string
		got, want int
	}{
		{"A", len(p.A), p.n}, {"B", len(p.B), p.n}, {"Bias", len(p.Bias), p.n},
		{"Q", len(p.Q), p.n + 1}, {"P", len(p.P), p.n}, {"R", len(p.R), p.n},
		{"Qv", len(p.Qv), p.n + 1}, {"Rv", len(p.Rv), p.n}, {"Qc", len(p.Qc), p.n + 1},
		{"X", len(p.X), p.n + 1}, {"U", len(p.U), p.n},
	}
	for _, l := range lengths {
		if l.got != l.want {
			err = multierr.Append(err, fmt.Errorf("%s has %d stages, want %d: %w", l.name, l.got, l.want, ErrDimension))
		}
	}
	if err != nil {
		return err
	}

	dense := func(name string, k int, m *mat.Dense, r, c int) {
		if m == nil {
			err = multierr.Append(err, fmt.Errorf("%s[%d] is nil: %w", name, k, ErrDimension))
			return
		}
		if mr, mc := m.Dims(); mr != r || mc != c {
			err = multierr.Append(err, fmt.Errorf("%s[%d] is %dx%d, want %dx%d: %w", name, k, mr, mc, r, c, ErrDimension))
		}
	}
	vec := func(name string, k int, v *mat.VecDense, n int) {
		if v == nil {
			err = multierr.Append(err, fmt.Errorf("%s[%d] is nil: %w", name, k, ErrDimension))
			return
		}
		if v.Len() != n {
			err = multierr.Append(err, fmt.Errorf("%s[%d] has length %d, want %d: %w", name, k, v.Len(), n, ErrDimension))
		}
	}
	nx, nu := p.nx, p.nu
	for k := 0; k <= p.n; k++ {
		dense("Q", k, p.Q[k], nx, nx)
		vec("Qv", k, p.Qv[k], nx)
		vec("X", k, p.X[k], nx)
		if k == p.n {
			break
		}
		dense("A", k, p.A[k], nx, nx)
		dense("B", k, p.B[k], nx, nu)
		vec("Bias", k, p.Bias[k], nx)
		dense("P", k, p.P[k], nu, nx)
		dense("R", k, p.R[k], nu, nu)
		vec("Rv", k, p.Rv[k], nu)
		vec("U", k, p.U[k], nu)
	}
	return err
}

// SetZero clears every stage and removes all constraints.
func (p *Problem) SetZero() {
	for k := 0; k <= p.n; k++ {
		p.Q[k].Zero()
		p.Qv[k].Zero()
		p.X[k].Zero()
		p.Qc[k] = 0
		if k == p.n {
			break
		}
		p.A[k].Zero()
		p.B[k].Zero()
		p.Bias[k].Zero()
		p.P[k].Zero()
		p.R[k].Zero()
		p.Rv[k].Zero()
		p.U[k].Zero()
	}
	p.uLower, p.uUpper = nil, nil
	p.xLower, p.xUpper = nil, nil
}

// SetFromTimeInvariantLinearQuadraticProblem fills every stage from a single
// linearization of the discrete-time sys at (x0, u0). Running costs are
// weighted by dt. The affine term of each stage is the one-step defect
// A x0 + B u0 - x0 plus stateOffset, which may be nil.
func (p *Problem) SetFromTimeInvariantLinearQuadraticProblem(x0 dynamo.State, u0 dynamo.Control, sys dynamo.LinearSystem, cost costfunction.Function, stateOffset dynamo.State, dt float64) error {
	if len(x0) != p.nx || len(u0) != p.nu || sys.StateDim() != p.nx || sys.ControlDim() != p.nu {
		return ErrDimension
	}
	if stateOffset != nil && len(stateOffset) != p.nx {
		return fmt.Errorf("state offset: %w", ErrDimension)
	}

	A, B := sys.Derivatives(x0, u0, 0)
	bias := mat.NewVecDense(p.nx, nil)
	bias.MulVec(A, x0.Vec())
	var bu mat.VecDense
	bu.MulVec(B, u0.Vec())
	bias.AddVec(bias, &bu)
	bias.SubVec(bias, x0.Vec())
	if stateOffset != nil {
		bias.AddVec(bias, stateOffset.Vec())
	}

	for k := 0; k < p.n; k++ {
		p.A[k].Copy(A)
		p.B[k].Copy(B)
		p.Bias[k].CopyVec(bias)
		p.Q[k].Scale(dt, cost.StateSecondDerivative(x0, u0))
		p.R[k].Scale(dt, cost.ControlSecondDerivative(x0, u0))
		p.P[k].Scale(dt, cost.StateControlDerivative(x0, u0))
		p.Qv[k].ScaleVec(dt, cost.StateDerivative(x0, u0))
		p.Rv[k].ScaleVec(dt, cost.ControlDerivative(x0, u0))
		p.Qc[k] = dt * cost.Intermediate(x0, u0)
		p.X[k].CopyVec(x0.Vec())
		p.U[k].CopyVec(u0.Vec())
	}
	p.Q[p.n].Copy(cost.TerminalStateSecondDerivative(x0))
	p.Qv[p.n].CopyVec(cost.TerminalStateDerivative(x0))
	p.Qc[p.n] = cost.Terminal(x0)
	p.X[p.n].CopyVec(x0.Vec())
	return nil
}

func checkBounds(lower, upper []float64, dim int) error {
	if len(lower) != dim || len(upper) != dim {
		return fmt.Errorf("got %d/%d bounds for dimension %d: %w", len(lower), len(upper), dim, ErrDimension)
	}
	var err error
	for i := range lower {
		if lower[i] > upper[i] {
			err = multierr.Append(err, fmt.Errorf("component %d: %g > %g: %w", i, lower[i], upper[i], ErrBounds))
		}
	}
	return err
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}

// SetControlBoxConstraints applies lower ≤ u_k ≤ upper at every stage k < N.
func (p *Problem) SetControlBoxConstraints(lower, upper []float64) error {
	if err := checkBounds(lower, upper, p.nu); err != nil {
		return err
	}
	p.uLower, p.uUpper = clone(lower), clone(upper)
	return nil
}

// SetStateBoxConstraints applies lower ≤ x_k ≤ upper at every stage 1..N.
// The initial state is fixed and never constrained.
func (p *Problem) SetStateBoxConstraints(lower, upper []float64) error {
	if err := checkBounds(lower, upper, p.nx); err != nil {
		return err
	}
	p.xLower, p.xUpper = clone(lower), clone(upper)
	return nil
}

func (p *Problem) ControlBounds() (lower, upper []float64, ok bool) {
	return p.uLower, p.uUpper, p.uLower != nil
}

func (p *Problem) StateBounds() (lower, upper []float64, ok bool) {
	return p.xLower, p.xUpper, p.xLower != nil
}

func (p *Problem) IsControlBoxConstrained() bool { return p.uLower != nil }
func (p *Problem) IsStateBoxConstrained() bool   { return p.xLower != nil }

// IsGeneralConstrained is always false: only box constraints are modelled.
func (p *Problem) IsGeneralConstrained() bool { return false }

func (p *Problem) IsConstrained() bool {
	return p.IsControlBoxConstrained() || p.IsStateBoxConstrained() || p.IsGeneralConstrained()
}

// normalizeBound maps huge magnitudes to infinities.
func normalizeBound(b float64) float64 {
	switch {
	case b <= -Unbounded:
		return math.Inf(-1)
	case b >= Unbounded:
		return math.Inf(1)
	}
	return b
}

// Objective evaluates the quadratic cost of a deviation trajectory, constant
// terms included.
func (p *Problem) Objective(dx []*mat.VecDense, du []*mat.VecDense) float64 {
	total := 0.0
	for k := 0; k < p.n; k++ {
		total += 0.5*mat.Inner(dx[k], p.Q[k], dx[k]) +
			mat.Inner(du[k], p.P[k], dx[k]) +
			0.5*mat.Inner(du[k], p.R[k], du[k]) +
			mat.Dot(p.Qv[k], dx[k]) + mat.Dot(p.Rv[k], du[k]) + p.Qc[k]
	}
	return total + 0.5*mat.Inner(dx[p.n], p.Q[p.n], dx[p.n]) + mat.Dot(p.Qv[p.n], dx[p.n]) + p.Qc[p.n]
}
