package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/dynopt/internal/dynamo"
)

type harmonicOscillator struct{}

func (h *harmonicOscillator) StateDim() int   { return 2 }
func (h *harmonicOscillator) ControlDim() int { return 1 }

func (h *harmonicOscillator) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	f := 0.0
	if len(u) > 0 {
		f = u[0]
	}
	return dynamo.State{x[1], -x[0] + f}
}

func (h *harmonicOscillator) Energy(x dynamo.State) float64 {
	return 0.5 * (x[0]*x[0] + x[1]*x[1])
}

func integrate(integ dynamo.Integrator, x dynamo.State, u dynamo.Control, dt float64, steps int) dynamo.State {
	for i := 0; i < steps; i++ {
		x = integ.Step(&harmonicOscillator{}, x, u, float64(i)*dt, dt)
	}
	return x
}

func TestRK4Accuracy(t *testing.T) {
	dt := 0.01
	steps := 100
	x := integrate(NewRK4(), dynamo.State{1.0, 0.0}, dynamo.Control{0}, dt, steps)

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(x[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expectedX)
	}
	if math.Abs(x[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", x[1], expectedV)
	}
}

func TestExplicitTableauMatchesHandWritten(t *testing.T) {
	tests := []struct {
		name string
		tab  Tableau
		ref  dynamo.Integrator
	}{
		{"euler", EulerTableau, NewEuler()},
		{"rk4", RK4Tableau, NewRK4()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tab.Validate(); err != nil {
				t.Fatalf("invalid tableau: %v", err)
			}
			u := dynamo.Control{0.3}
			a := integrate(NewExplicit(tt.tab), dynamo.State{1, 0.5}, u, 0.05, 40)
			b := integrate(tt.ref, dynamo.State{1, 0.5}, u, 0.05, 40)
			for i := range a {
				if math.Abs(a[i]-b[i]) > 1e-12 {
					t.Errorf("component %d: tableau %.12f, reference %.12f", i, a[i], b[i])
				}
			}
		})
	}
}

func TestTableauValidate(t *testing.T) {
	bad := Tableau{Name: "bad", A: [][]float64{{}, {}}, B: []float64{0.5, 0.5}, C: []float64{0, 1}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for malformed tableau")
	}
}

func TestRK45_EnergyConservation(t *testing.T) {
	dyn := &harmonicOscillator{}
	x0 := dynamo.State{1.0, 0.0}

	x := integrate(NewRK45(), x0.Clone(), nil, 0.01, 10000)

	drift := math.Abs(dyn.Energy(x)-dyn.Energy(x0)) / dyn.Energy(x0)
	if drift > 1e-6 {
		t.Errorf("RK45 energy drift too high: %e", drift)
	}
}

func TestRK45_AdaptiveStep(t *testing.T) {
	integrator := NewRK45()
	x, newDt, err := integrator.StepAdaptive(&harmonicOscillator{}, dynamo.State{1.0, 0.0}, nil, 0, 0.1, 1e-8)

	if err != nil {
		t.Errorf("StepAdaptive returned error: %v", err)
	}
	if !x.IsValid() {
		t.Error("StepAdaptive produced invalid state")
	}
	if newDt <= 0 {
		t.Errorf("StepAdaptive returned invalid dt: %f", newDt)
	}
}

func TestRK45_RejectsInvalidState(t *testing.T) {
	_, _, err := NewRK45().StepAdaptive(&harmonicOscillator{}, dynamo.State{math.NaN(), 0}, nil, 0, 0.1, 1e-6)
	if err == nil {
		t.Error("expected error for NaN state")
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"euler", "rk4", "rk45"} {
		if _, ok := New(name); !ok {
			t.Errorf("integrator %s not registered", name)
		}
	}
	if _, ok := New("verlet"); ok {
		t.Error("unexpected integrator")
	}
}
