package control

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lqoc"
	"github.com/san-kum/dynopt/internal/physics"
)

var ErrTrajectory = errors.New("control: inconsistent trajectory")

// LQR is a static gain around an operating point: u = U + K (x - Target).
type LQR struct {
	K      *mat.Dense
	Target dynamo.State
	U      dynamo.Control
}

func NewLQR(k *mat.Dense, target dynamo.State, u dynamo.Control) *LQR {
	return &LQR{K: k, Target: target, U: u}
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	return affine(l.K, l.U, x, l.Target)
}

func affine(K *mat.Dense, u0 dynamo.Control, x, ref dynamo.State) dynamo.Control {
	var u mat.VecDense
	u.MulVec(K, x.Sub(ref).Vec())
	out := dynamo.ControlFromVec(&u)
	for i := range out {
		out[i] += u0[i]
	}
	return out
}

// SteadyStateLQR linearizes sys at (target, u0), discretizes it with step dt
// and keeps the first gain of a horizon-stage Riccati solve. For a long
// enough horizon that gain is the infinite-horizon one.
func SteadyStateLQR(sys dynamo.LinearSystem, cost costfunction.Function, target dynamo.State, u0 dynamo.Control, dt float64, horizon int) (*LQR, error) {
	disc, err := physics.NewDiscreteLinearSystem(sys, target, u0, dt, physics.MatrixExponential)
	if err != nil {
		return nil, err
	}
	p, err := lqoc.NewProblem(horizon, sys.StateDim(), sys.ControlDim())
	if err != nil {
		return nil, err
	}
	if err := p.SetFromTimeInvariantLinearQuadraticProblem(target, u0, disc, cost, nil, dt); err != nil {
		return nil, err
	}
	solver := lqoc.NewRiccatiSolver()
	solver.SetProblem(p)
	if err := solver.Solve(); err != nil {
		return nil, err
	}
	K := make([]*mat.Dense, horizon)
	if err := solver.Feedback(K); err != nil {
		return nil, err
	}
	return NewLQR(K[0], target.Clone(), u0.Clone()), nil
}

// Feedback tracks a solved trajectory with time-varying gains:
// u = U[k] + K[k] (x - X[k]) where k = floor(t / Dt). After the horizon it
// regulates around X[N] with the last gain.
type Feedback struct {
	X  []dynamo.State
	U  []dynamo.Control
	K  []*mat.Dense
	Dt float64
}

func NewFeedback(x []dynamo.State, u []dynamo.Control, K []*mat.Dense, dt float64) (*Feedback, error) {
	if len(u) == 0 || len(x) != len(u)+1 || len(K) != len(u) {
		return nil, fmt.Errorf("%d states, %d controls, %d gains: %w", len(x), len(u), len(K), ErrTrajectory)
	}
	if dt <= 0 {
		return nil, fmt.Errorf("stage length %g: %w", dt, ErrTrajectory)
	}
	return &Feedback{X: x, U: u, K: K, Dt: dt}, nil
}

// NewFromSolver wraps the last successful solve of s.
func NewFromSolver(s lqoc.Solver, dt float64) (*Feedback, error) {
	x, err := s.SolutionState()
	if err != nil {
		return nil, err
	}
	u, err := s.SolutionControl()
	if err != nil {
		return nil, err
	}
	K := make([]*mat.Dense, len(u))
	if err := s.Feedback(K); err != nil {
		return nil, err
	}
	return NewFeedback(x, u, K, dt)
}

// Stage returns the index of the gain used at time t.
func (f *Feedback) Stage(t float64) int {
	k := int(t/f.Dt + 1e-9)
	return min(max(k, 0), len(f.U)-1)
}

func (f *Feedback) Compute(x dynamo.State, t float64) dynamo.Control {
	k := f.Stage(t)
	ref := f.X[k]
	if t >= float64(len(f.U))*f.Dt {
		ref = f.X[len(f.X)-1]
	}
	return affine(f.K[k], f.U[k], x, ref)
}

// Horizon is the time covered by the trajectory.
func (f *Feedback) Horizon() float64 {
	return float64(len(f.U)) * f.Dt
}

// Reference interpolates the planned state linearly between stage nodes.
func (f *Feedback) Reference(t float64) dynamo.State {
	if t >= f.Horizon() {
		return f.X[len(f.X)-1].Clone()
	}
	k := f.Stage(t)
	s := min(max(t/f.Dt-float64(k), 0), 1)
	return f.X[k].Scale(1 - s).Add(f.X[k+1].Scale(s))
}
