package sim

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Simulator rolls a controller out on a system with a fixed or adaptive
// integrator.
type Simulator struct {
	sys        dynamo.System
	integrator dynamo.Integrator
	controller dynamo.Controller
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
	logger     *zap.SugaredLogger
}

func New(sys dynamo.System, integrator dynamo.Integrator, controller dynamo.Controller) *Simulator {
	return &Simulator{
		sys:        sys,
		integrator: integrator,
		controller: controller,
		metrics:    make([]dynamo.Metric, 0),
		observers:  make([]dynamo.Observer, 0),
		logger:     zap.NewNop().Sugar(),
	}
}

func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) SetLogger(l *zap.SugaredLogger) { s.logger = l }

func (s *Simulator) Run(ctx context.Context, x0 dynamo.State, cfg dynamo.Config) (*dynamo.Result, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if len(x0) != s.sys.StateDim() {
		return nil, fmt.Errorf("initial state has %d entries, system %d: %w", len(x0), s.sys.StateDim(), dynamo.ErrDimensionMismatch)
	}

	steps := int(cfg.Duration/cfg.Dt + 1e-9)
	result := &dynamo.Result{
		States:   make([]dynamo.State, 0, steps+1),
		Controls: make([]dynamo.Control, 0, steps),
		Times:    make([]float64, 0, steps+1),
		Metrics:  make(map[string]float64),
		Errors:   make([]error, 0),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	x := x0.Clone()
	t := 0.0
	dt := cfg.Dt

	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, t)

	for i := 0; t < cfg.Duration-1e-12 && (cfg.Adaptive || i < steps); i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		u := s.controller.Compute(x, t)
		if len(u) != s.sys.ControlDim() {
			return result, &dynamo.SimulationError{Step: i, Time: t, State: x, Wrapped: dynamo.ErrDimensionMismatch}
		}

		for _, m := range s.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, t)
		}

		var newX dynamo.State
		var stepErr error
		taken := dt
		if cfg.Adaptive {
			newX, taken, dt, stepErr = s.adaptiveStep(x, u, t, math.Min(dt, cfg.Duration-t), cfg)
		} else {
			newX = s.integrator.Step(s.sys, x, u, t, dt)
		}

		if stepErr != nil {
			result.Errors = append(result.Errors, &dynamo.SimulationError{Step: i, Time: t, State: x, Wrapped: stepErr})
		}

		if cfg.ValidateState && !newX.IsValid() {
			result.Errors = append(result.Errors, dynamo.SimError{Time: t, Step: i, Message: "invalid state (NaN/Inf)"})
			s.logger.Warnw("rollout diverged", "step", i, "t", t)
			break
		}

		x = newX
		t += taken
		result.StepsTaken++

		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u)
		result.Times = append(result.Times, t)
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	s.logger.Debugw("rollout finished", "steps", result.StepsTaken, "t", t, "errors", len(result.Errors))

	return result, nil
}

// ValidateConfig reports every problem with cfg at once.
func ValidateConfig(cfg dynamo.Config) error {
	var err error
	if cfg.Dt <= 0 {
		err = multierr.Append(err, fmt.Errorf("dt must be positive, got %f", cfg.Dt))
	}
	if cfg.Duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("duration must be positive, got %f", cfg.Duration))
	}
	if cfg.Adaptive && cfg.Tolerance <= 0 {
		err = multierr.Append(err, fmt.Errorf("tolerance must be positive for adaptive stepping"))
	}
	return err
}

// adaptiveStep returns the new state, the step actually taken, the step to
// try next and any integrator error. Integrators without an embedded error
// estimate fall back to step doubling.
func (s *Simulator) adaptiveStep(x dynamo.State, u dynamo.Control, t, dt float64, cfg dynamo.Config) (dynamo.State, float64, float64, error) {
	if adaptive, ok := s.integrator.(dynamo.AdaptiveIntegrator); ok {
		newX, next, err := adaptive.StepAdaptive(s.sys, x, u, t, dt, cfg.Tolerance)
		if cfg.MaxDt > 0 {
			next = math.Min(next, cfg.MaxDt)
		}
		return newX, dt, math.Max(next, cfg.MinDt), err
	}

	x1 := s.integrator.Step(s.sys, x, u, t, dt)
	xHalf := s.integrator.Step(s.sys, x, u, t, dt/2)
	x2 := s.integrator.Step(s.sys, xHalf, u, t+dt/2, dt/2)

	err := x1.Sub(x2).Norm()
	if err > cfg.Tolerance && dt/2 > cfg.MinDt {
		return s.adaptiveStep(x, u, t, dt/2, cfg)
	}
	if err < cfg.Tolerance/10 && (cfg.MaxDt <= 0 || dt < cfg.MaxDt) {
		next := dt * 2
		if cfg.MaxDt > 0 {
			next = math.Min(next, cfg.MaxDt)
		}
		return x2, dt, next, nil
	}
	return x2, dt, dt, nil
}

func (s *Simulator) RunWithCallback(ctx context.Context, x0 dynamo.State, cfg dynamo.Config, callback func(dynamo.State, dynamo.Control, float64) bool) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	x := x0.Clone()
	t := 0.0
	dt := cfg.Dt

	for t < cfg.Duration {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u := s.controller.Compute(x, t)

		if !callback(x, u, t) {
			return nil
		}

		x = s.integrator.Step(s.sys, x, u, t, dt)
		t += dt

		if cfg.ValidateState && !x.IsValid() {
			return fmt.Errorf("invalid state at t=%.4f: %w", t, dynamo.ErrInvalidState)
		}
	}

	return nil
}
