package dms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lqoc"
)

var ErrCoupledSpline = errors.New("dms: LQOC assembly needs a piecewise-constant spline")

// Shots owns one container per shot and fans work out over them.
type Shots struct {
	shared     *Shared
	containers []*ShotContainer
	workers    int
	logger     *zap.SugaredLogger
}

type Option func(*Shots)

// WithWorkers caps how many shots are integrated concurrently.
func WithWorkers(n int) Option {
	return func(s *Shots) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Shots) { s.logger = l }
}

func NewShots(shared *Shared, opts ...Option) (*Shots, error) {
	s := &Shots{
		shared:  shared,
		workers: runtime.NumCPU(),
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.containers = make([]*ShotContainer, shared.Settings.N)
	for i := range s.containers {
		c, err := NewShotContainer(shared, i)
		if err != nil {
			return nil, err
		}
		s.containers[i] = c
	}
	return s, nil
}

func (s *Shots) Shared() *Shared { return s.shared }

func (s *Shots) Container(i int) *ShotContainer { return s.containers[i] }

func (s *Shots) Len() int { return len(s.containers) }

// NewDecisionVector sizes a decision vector for these shots.
func (s *Shots) NewDecisionVector() *DecisionVector {
	return NewDecisionVector(s.shared.Settings.N, s.shared.System.StateDim(), s.shared.System.ControlDim())
}

// Integrate brings tier up to date on every shot. Each container is touched
// by exactly one goroutine; w must not change until Integrate returns.
func (s *Shots) Integrate(ctx context.Context, w *DecisionVector, tier Tier) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, c := range s.containers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.Integrate(w, tier); err != nil {
				return fmt.Errorf("shot %d: %w", c.shot, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Defects returns x_end,i - s_i+1 for every shot.
func (s *Shots) Defects(w *DecisionVector) []dynamo.State {
	d := make([]dynamo.State, len(s.containers))
	for i, c := range s.containers {
		c.IntegrateShot(w)
		d[i] = c.StateIntegrated().Sub(w.OptimizedState(i + 1))
	}
	return d
}

// MaxDefect is the largest absolute defect component.
func (s *Shots) MaxDefect(w *DecisionVector) float64 {
	worst := 0.0
	for _, d := range s.Defects(w) {
		worst = math.Max(worst, floats.Norm(d, math.Inf(1)))
	}
	return worst
}

// TotalCost is the sum of the running costs plus the terminal cost at s_N.
func (s *Shots) TotalCost(ctx context.Context, w *DecisionVector) (float64, error) {
	if err := s.Integrate(ctx, w, TierCost); err != nil {
		return 0, err
	}
	total := 0.0
	for _, c := range s.containers {
		total += c.CostIntegrated()
	}
	if s.shared.Cost != nil && s.shared.Settings.CostEvaluation == CostFull {
		total += s.shared.Cost.Terminal(w.OptimizedState(s.Len()))
	}
	return total, nil
}

// BuildProblem writes the shot linearization around w into p. Box
// constraints already set on p are kept.
func (s *Shots) BuildProblem(w *DecisionVector, p *lqoc.Problem) error {
	if s.shared.Spliner.Type() != PiecewiseConstant {
		return ErrCoupledSpline
	}
	if s.shared.Cost == nil {
		return fmt.Errorf("no cost function: %w", ErrSettings)
	}
	N := s.Len()
	nx, nu := s.shared.System.StateDim(), s.shared.System.ControlDim()
	if p.N() != N || p.StateDim() != nx || p.ControlDim() != nu {
		return fmt.Errorf("problem %dx%dx%d for %d shots of %dx%d: %w", p.N(), p.StateDim(), p.ControlDim(), N, nx, nu, lqoc.ErrDimension)
	}

	cost := s.shared.Cost
	for k, c := range s.containers {
		if err := c.IntegrateCost(w); err != nil {
			return err
		}
		if err := c.IntegrateCostSensitivities(w); err != nil {
			return err
		}
		sk, qk := w.OptimizedState(k), w.OptimizedControl(k)
		h := Duration(s.shared.Grid, k)

		p.A[k].Copy(c.DXdSi())
		p.B[k].Copy(c.DXdQi())
		p.Bias[k].CopyVec(c.StateIntegrated().Sub(w.OptimizedState(k + 1)).Vec())

		p.Q[k].Scale(h, cost.StateSecondDerivative(sk, qk))
		p.R[k].Scale(h, cost.ControlSecondDerivative(sk, qk))
		p.P[k].Scale(h, cost.StateControlDerivative(sk, qk))
		p.Qv[k].CopyVec(c.DLdSi())
		p.Rv[k].CopyVec(c.DLdQi())
		p.Qc[k] = c.CostIntegrated()

		p.X[k].CopyVec(sk.Vec())
		p.U[k].CopyVec(qk.Vec())
	}

	sN := w.OptimizedState(N)
	p.Q[N].Copy(cost.TerminalStateSecondDerivative(sN))
	p.Qv[N].CopyVec(cost.TerminalStateDerivative(sN))
	p.Qc[N] = cost.Terminal(sN)
	p.X[N].CopyVec(sN.Vec())
	return nil
}

// StepResult describes the iterate before a step and the step taken.
type StepResult struct {
	Cost      float64
	MaxDefect float64
	StepNorm  float64
}

// Step runs one Gauss-Newton iteration: integrate every tier, build the LQOC
// problem into p, solve it and apply the full step to w.
func (s *Shots) Step(ctx context.Context, w *DecisionVector, solver lqoc.Solver, p *lqoc.Problem) (StepResult, error) {
	var res StepResult
	if err := s.Integrate(ctx, w, TierCostSensitivities); err != nil {
		return res, err
	}
	cost, err := s.TotalCost(ctx, w)
	if err != nil {
		return res, err
	}
	res.Cost = cost
	res.MaxDefect = s.MaxDefect(w)

	if err := s.BuildProblem(w, p); err != nil {
		return res, err
	}
	solver.SetProblem(p)
	if err := solver.Solve(); err != nil {
		return res, err
	}
	x, err := solver.SolutionState()
	if err != nil {
		return res, err
	}
	u, err := solver.SolutionControl()
	if err != nil {
		return res, err
	}

	dx := make([]dynamo.State, len(x))
	for i := range x {
		dx[i] = x[i].Sub(w.OptimizedState(i))
		res.StepNorm = math.Max(res.StepNorm, floats.Norm(dx[i], math.Inf(1)))
	}
	du := make([]dynamo.Control, len(u))
	for i := range u {
		du[i] = u[i].Sub(w.OptimizedControl(i))
		res.StepNorm = math.Max(res.StepNorm, floats.Norm(du[i], math.Inf(1)))
	}
	if err := w.Apply(dx, du, 1); err != nil {
		return res, err
	}

	s.logger.Debugw("dms step",
		"cost", res.Cost,
		"max_defect", res.MaxDefect,
		"step", res.StepNorm,
		"version", w.UpdateCount(),
	)
	return res, nil
}

// Feedback builds the time-varying gains of the last solve. Use after Step.
func Feedback(solver lqoc.Solver, N, nx, nu int) ([]*mat.Dense, error) {
	K := make([]*mat.Dense, N)
	for k := range K {
		K[k] = mat.NewDense(nu, nx, nil)
	}
	if err := solver.Feedback(K); err != nil {
		return nil, err
	}
	return K, nil
}
