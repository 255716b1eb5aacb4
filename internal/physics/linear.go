package physics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// LinearOscillator is a damped harmonic oscillator driven by a force input:
// x1' = x2, x2' = -w^2 x1 - 2 zeta w x2 + u.
type LinearOscillator struct {
	NaturalFrequency float64
	DampingRatio     float64
}

func NewLinearOscillator() *LinearOscillator {
	return &LinearOscillator{NaturalFrequency: 1.0, DampingRatio: 0.1}
}

func (o *LinearOscillator) StateDim() int   { return 2 }
func (o *LinearOscillator) ControlDim() int { return 1 }

func (o *LinearOscillator) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	w := o.NaturalFrequency
	return dynamo.State{x[1], -w*w*x[0] - 2*o.DampingRatio*w*x[1] + u[0]}
}

func (o *LinearOscillator) Derivatives(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	w := o.NaturalFrequency
	A := mat.NewDense(2, 2, []float64{0, 1, -w * w, -2 * o.DampingRatio * w})
	B := mat.NewDense(2, 1, []float64{0, 1})
	return A, B
}

func (o *LinearOscillator) GetParams() map[string]float64 {
	return map[string]float64{
		"frequency": o.NaturalFrequency,
		"damping":   o.DampingRatio,
	}
}

func (o *LinearOscillator) SetParam(name string, value float64) error {
	switch name {
	case "frequency":
		o.NaturalFrequency = value
	case "damping":
		o.DampingRatio = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

// DoubleIntegrator is a unit point mass: x1' = x2, x2' = u.
type DoubleIntegrator struct{}

func NewDoubleIntegrator() *DoubleIntegrator {
	return &DoubleIntegrator{}
}

func (d *DoubleIntegrator) StateDim() int   { return 2 }
func (d *DoubleIntegrator) ControlDim() int { return 1 }

func (d *DoubleIntegrator) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], u[0]}
}

func (d *DoubleIntegrator) Derivatives(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	A := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	B := mat.NewDense(2, 1, []float64{0, 1})
	return A, B
}

func (d *DoubleIntegrator) GetParams() map[string]float64 {
	return map[string]float64{}
}

func (d *DoubleIntegrator) SetParam(name string, value float64) error {
	return fmt.Errorf("unknown param: %s", name)
}
