// Package lqoc solves linear-quadratic optimal control problems.
//
// Two strategies sit behind [Solver]: [RiccatiSolver] runs the unconstrained
// backward Riccati recursion, [InteriorPointSolver] transcribes the problem
// into a dense QP and handles box constraints on states and controls.
package lqoc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

var (
	ErrNoProblem              = errors.New("lqoc: no problem set")
	ErrNotSolved              = errors.New("lqoc: no successful solve")
	ErrConstraintsUnsupported = errors.New("lqoc: strategy does not support box constraints")
	ErrNotPositiveDefinite    = errors.New("lqoc: control Hessian is not positive definite")
	ErrUnknownStrategy        = errors.New("lqoc: unknown strategy")
)

// Solver is the contract shared by all strategies. A Solver must not be used
// from several goroutines at once.
type Solver interface {
	// SetProblem binds p without solving. The problem is read, never written.
	SetProblem(p *Problem)
	Solve() error
	// SolutionState returns N+1 absolute states.
	SolutionState() ([]dynamo.State, error)
	// SolutionControl returns N absolute controls.
	SolutionControl() ([]dynamo.Control, error)
	// Feedback writes the N gain matrices into K, which must have length N.
	Feedback(K []*mat.Dense) error
}

// SolveError reports a numerical failure at a given stage or iteration.
type SolveError struct {
	Strategy string
	Stage    int
	Err      error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("lqoc: %s failed at stage %d: %v", e.Strategy, e.Stage, e.Err)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

type Kind int

const (
	Riccati Kind = iota
	InteriorPoint
)

func (k Kind) String() string {
	switch k {
	case Riccati:
		return "riccati"
	case InteriorPoint:
		return "interior_point"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "riccati", "gnriccati":
		return Riccati, nil
	case "interior_point", "ip", "hpipm":
		return InteriorPoint, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownStrategy)
}

type options struct {
	logger        *zap.SugaredLogger
	maxIterations int
	tolerance     float64
}

type Option func(*options)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxIterations bounds the interior-point iterations.
func WithMaxIterations(n int) Option {
	return func(o *options) { o.maxIterations = n }
}

func WithTolerance(tol float64) Option {
	return func(o *options) { o.tolerance = tol }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the strategy named by kind.
func New(kind Kind, opts ...Option) (Solver, error) {
	switch kind {
	case Riccati:
		return NewRiccatiSolver(opts...), nil
	case InteriorPoint:
		return NewInteriorPointSolver(opts...), nil
	}
	return nil, fmt.Errorf("%v: %w", kind, ErrUnknownStrategy)
}

// solution holds what every strategy produces. It is rebuilt on each solve.
type solution struct {
	problem *Problem
	x       []dynamo.State
	u       []dynamo.Control
	K       []*mat.Dense
	solved  bool
	logger  *zap.SugaredLogger
}

func (s *solution) SetProblem(p *Problem) {
	s.problem = p
	s.clear()
}

func (s *solution) clear() {
	s.x, s.u, s.K = nil, nil, nil
	s.solved = false
}

func (s *solution) SolutionState() ([]dynamo.State, error) {
	if !s.solved {
		return nil, ErrNotSolved
	}
	return s.x, nil
}

func (s *solution) SolutionControl() ([]dynamo.Control, error) {
	if !s.solved {
		return nil, ErrNotSolved
	}
	return s.u, nil
}

func (s *solution) Feedback(K []*mat.Dense) error {
	if !s.solved {
		return ErrNotSolved
	}
	if len(K) != len(s.K) {
		return fmt.Errorf("feedback has %d slots, want %d: %w", len(K), len(s.K), ErrDimension)
	}
	for k := range s.K {
		K[k] = mat.DenseCopyOf(s.K[k])
	}
	return nil
}

// store converts deviations into absolute trajectories.
func (s *solution) store(dx, du []*mat.VecDense, K []*mat.Dense) {
	p := s.problem
	s.x = make([]dynamo.State, p.n+1)
	s.u = make([]dynamo.Control, p.n)
	for k := 0; k <= p.n; k++ {
		var x mat.VecDense
		x.AddVec(p.X[k], dx[k])
		s.x[k] = dynamo.StateFromVec(&x)
		if k < p.n {
			var u mat.VecDense
			u.AddVec(p.U[k], du[k])
			s.u[k] = dynamo.ControlFromVec(&u)
		}
	}
	s.K = K
	s.solved = true
}

// Deviations returns the solved trajectory relative to the nominal one.
func Deviations(p *Problem, x []dynamo.State, u []dynamo.Control) ([]*mat.VecDense, []*mat.VecDense) {
	dx := make([]*mat.VecDense, len(x))
	du := make([]*mat.VecDense, len(u))
	for k := range x {
		dx[k] = mat.NewVecDense(p.nx, nil)
		dx[k].SubVec(x[k].Vec(), p.X[k])
	}
	for k := range u {
		du[k] = mat.NewVecDense(p.nu, nil)
		du[k].SubVec(u[k].Vec(), p.U[k])
	}
	return dx, du
}
