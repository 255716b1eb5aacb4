package dms

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

type SplineType int

const (
	PiecewiseConstant SplineType = iota
	PiecewiseLinear
)

func (s SplineType) String() string {
	switch s {
	case PiecewiseConstant:
		return "piecewise_constant"
	case PiecewiseLinear:
		return "piecewise_linear"
	}
	return fmt.Sprintf("SplineType(%d)", int(s))
}

func ParseSplineType(s string) (SplineType, error) {
	switch s {
	case "piecewise_constant", "zoh":
		return PiecewiseConstant, nil
	case "piecewise_linear", "linear":
		return PiecewiseLinear, nil
	}
	return 0, fmt.Errorf("spline %q: %w", s, ErrSettings)
}

// ControlSpliner evaluates the control inside a shot from the parameters
// q_shot and q_shot+1. WeightStart and WeightEnd are the basis weights of
// those two parameters.
type ControlSpliner interface {
	Evaluate(w *DecisionVector, t float64, shot int) dynamo.Control
	WeightStart(t float64, shot int) float64
	WeightEnd(t float64, shot int) float64
	Type() SplineType
}

func NewSpliner(kind SplineType, grid TimeGrid) (ControlSpliner, error) {
	switch kind {
	case PiecewiseConstant:
		return constantSpliner{}, nil
	case PiecewiseLinear:
		return linearSpliner{grid: grid}, nil
	}
	return nil, fmt.Errorf("spline %v: %w", kind, ErrSettings)
}

type constantSpliner struct{}

func (constantSpliner) Evaluate(w *DecisionVector, t float64, shot int) dynamo.Control {
	return w.OptimizedControl(shot).Clone()
}

func (constantSpliner) WeightStart(t float64, shot int) float64 { return 1 }
func (constantSpliner) WeightEnd(t float64, shot int) float64   { return 0 }
func (constantSpliner) Type() SplineType                        { return PiecewiseConstant }

type linearSpliner struct {
	grid TimeGrid
}

func (l linearSpliner) tau(t float64, shot int) float64 {
	t0, t1 := l.grid.ShotStartTime(shot), l.grid.ShotEndTime(shot)
	s := (t - t0) / (t1 - t0)
	return min(max(s, 0), 1)
}

func (l linearSpliner) Evaluate(w *DecisionVector, t float64, shot int) dynamo.Control {
	s := l.tau(t, shot)
	q0, q1 := w.OptimizedControl(shot), w.OptimizedControl(shot+1)
	u := make(dynamo.Control, len(q0))
	for i := range u {
		u[i] = (1-s)*q0[i] + s*q1[i]
	}
	return u
}

func (l linearSpliner) WeightStart(t float64, shot int) float64 { return 1 - l.tau(t, shot) }
func (l linearSpliner) WeightEnd(t float64, shot int) float64   { return l.tau(t, shot) }
func (l linearSpliner) Type() SplineType                        { return PiecewiseLinear }

// shotInput binds a spliner to one shot of one decision vector.
type shotInput struct {
	spliner ControlSpliner
	w       *DecisionVector
	shot    int
}

func (in shotInput) Control(t float64) dynamo.Control {
	return in.spliner.Evaluate(in.w, t, in.shot)
}

func (in shotInput) WeightStart(t float64) float64 {
	return in.spliner.WeightStart(t, in.shot)
}

func (in shotInput) WeightEnd(t float64) float64 {
	return in.spliner.WeightEnd(t, in.shot)
}
