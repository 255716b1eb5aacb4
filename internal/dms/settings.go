package dms

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/san-kum/dynopt/internal/integrators"
)

var (
	ErrAdaptiveIntegration    = errors.New("dms: adaptive integration is not supported")
	ErrUnsupportedIntegration = errors.New("dms: unsupported integration scheme")
	ErrShotIndex              = errors.New("dms: shot index out of range")
	ErrStepSize               = errors.New("dms: shot shorter than one integration step")
	ErrSettings               = errors.New("dms: invalid settings")
)

type Integration int

const (
	Euler Integration = iota
	RK4
	RK5
)

func (i Integration) String() string {
	switch i {
	case Euler:
		return "euler"
	case RK4:
		return "rk4"
	case RK5:
		return "rk5"
	}
	return fmt.Sprintf("Integration(%d)", int(i))
}

func ParseIntegration(s string) (Integration, error) {
	switch s {
	case "euler":
		return Euler, nil
	case "rk4":
		return RK4, nil
	case "rk5", "rk45":
		return RK5, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnsupportedIntegration)
}

// Tableau returns the fixed-step scheme. Adaptive schemes are refused.
func (i Integration) Tableau() (integrators.Tableau, error) {
	switch i {
	case Euler:
		return integrators.EulerTableau, nil
	case RK4:
		return integrators.RK4Tableau, nil
	case RK5:
		return integrators.Tableau{}, ErrAdaptiveIntegration
	}
	return integrators.Tableau{}, fmt.Errorf("%v: %w", i, ErrUnsupportedIntegration)
}

type CostEvaluation int

const (
	CostFull CostEvaluation = iota
	CostNone
)

func ParseCostEvaluation(s string) (CostEvaluation, error) {
	switch s {
	case "full", "":
		return CostFull, nil
	case "none":
		return CostNone, nil
	}
	return 0, fmt.Errorf("cost evaluation %q: %w", s, ErrSettings)
}

type Settings struct {
	// N is the number of shots.
	N int
	// T is the horizon length in seconds.
	T              float64
	DtSim          float64
	Integration    Integration
	CostEvaluation CostEvaluation
	Spline         SplineType
}

func DefaultSettings() Settings {
	return Settings{
		N:           10,
		T:           2.0,
		DtSim:       0.01,
		Integration: RK4,
		Spline:      PiecewiseConstant,
	}
}

// Validate reports every problem at once.
func (s Settings) Validate() error {
	var err error
	if s.N < 1 {
		err = multierr.Append(err, fmt.Errorf("N=%d: %w", s.N, ErrSettings))
	}
	if s.T <= 0 {
		err = multierr.Append(err, fmt.Errorf("T=%g: %w", s.T, ErrSettings))
	}
	if s.DtSim <= 0 {
		err = multierr.Append(err, fmt.Errorf("dt_sim=%g: %w", s.DtSim, ErrSettings))
	}
	if _, e := s.Integration.Tableau(); e != nil {
		err = multierr.Append(err, e)
	}
	if s.Spline != PiecewiseConstant && s.Spline != PiecewiseLinear {
		err = multierr.Append(err, fmt.Errorf("spline %d: %w", s.Spline, ErrSettings))
	}
	return err
}
