package integrators

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// dormandPrince is the fifth-order Dormand-Prince pair. The first-same-as-last
// stage is evaluated separately at the accepted point.
var dormandPrince = Tableau{
	Name: "rk45",
	A: [][]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
	},
	B: []float64{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	C: []float64{0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1},
}

// Difference between the fifth- and fourth-order weights, the last entry
// belonging to the FSAL stage.
var dpError = []float64{
	35.0/384.0 - 5179.0/57600.0,
	0,
	500.0/1113.0 - 7571.0/16695.0,
	125.0/192.0 - 393.0/640.0,
	-2187.0/6784.0 + 92097.0/339200.0,
	11.0/84.0 - 187.0/2100.0,
	-1.0 / 40.0,
}

type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
	stepper  *Explicit
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		stepper:  NewExplicit(dormandPrince),
	}
}

func (r *RK45) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	newX, _, _ := r.StepAdaptive(dyn, x, u, t, dt, 1e-6)
	return newX
}

// StepAdaptive takes one step of size dt and returns the step size the error
// estimate suggests for the next one.
func (r *RK45) StepAdaptive(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) (dynamo.State, float64, error) {
	if !x.IsValid() {
		return nil, dt, dynamo.ErrInvalidState
	}
	xNew := r.stepper.Step(dyn, x, u, t, dt)
	if !xNew.IsValid() {
		return xNew, dt * r.minScale, dynamo.ErrInvalidState
	}
	k := r.stepper.k
	kLast := dyn.Derive(xNew, u, t+dt)

	errMax := 0.0
	for i := range x {
		errEst := dt * dpError[6] * kLast[i]
		for s, w := range dpError[:6] {
			errEst += dt * w * k[s][i]
		}
		scale := math.Abs(x[i]) + math.Abs(dt*k[0][i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	errRatio := errMax / tol
	switch {
	case errRatio > 1:
		return xNew, dt * math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25)), nil
	case errRatio > 0:
		return xNew, dt * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2)), nil
	default:
		return xNew, dt * r.maxScale, nil
	}
}
