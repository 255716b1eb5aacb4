package dms

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lqoc"
)

func newShots(t *testing.T, shared *Shared) *Shots {
	t.Helper()
	s, err := NewShots(shared, WithWorkers(3), WithLogger(zaptest.NewLogger(t).Sugar()))
	if err != nil {
		t.Fatalf("shots: %v", err)
	}
	return s
}

func TestShotsIntegrateMatchesSerial(t *testing.T) {
	shared := newShared(t, "cartpole", nil)
	shots := newShots(t, shared)
	w := NewDecisionVector(shared.Settings.N, 4, 1)
	_ = w.InitLinear(dynamo.State{0, 0, 0.2, 0}, dynamo.State{0.5, 0, 0, 0}, dynamo.Control{0.3})

	if err := shots.Integrate(context.Background(), w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	if err := shots.Integrate(context.Background(), w, TierCost); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < shots.Len(); i++ {
		serial := newContainer(t, shared, i)
		if err := serial.Integrate(w, TierCostSensitivities); err != nil {
			t.Fatal(err)
		}
		if !snap(serial).equal(snap(shots.Container(i))) {
			t.Errorf("shot %d differs from serial integration", i)
		}
	}
}

func TestShotsIntegrateCancelled(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	shots := newShots(t, shared)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := shots.Integrate(ctx, newVector(shared), TierState); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTotalCost(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	shots := newShots(t, shared)
	w := newVector(shared)

	total, err := shots.TotalCost(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	want := shared.Cost.Terminal(w.OptimizedState(shared.Settings.N))
	for i := 0; i < shots.Len(); i++ {
		want += shots.Container(i).CostIntegrated()
	}
	if total != want || total <= 0 {
		t.Errorf("total cost %g, want %g", total, want)
	}
}

func TestStepClosesDefectsOnLinearModel(t *testing.T) {
	for _, kind := range []lqoc.Kind{lqoc.Riccati, lqoc.InteriorPoint} {
		t.Run(kind.String(), func(t *testing.T) {
			shared := newShared(t, "double_integrator", nil)
			shots := newShots(t, shared)
			w := shots.NewDecisionVector()
			_ = w.InitLinear(dynamo.State{1, 0}, dynamo.State{0, 0}, dynamo.Control{0})

			solver, err := lqoc.New(kind, lqoc.WithLogger(zaptest.NewLogger(t).Sugar()))
			if err != nil {
				t.Fatal(err)
			}
			p, err := lqoc.NewProblem(shared.Settings.N, 2, 1)
			if err != nil {
				t.Fatal(err)
			}

			res, err := shots.Step(context.Background(), w, solver, p)
			if err != nil {
				t.Fatalf("step: %v", err)
			}
			if res.MaxDefect < 0.2 {
				t.Errorf("initial defect %g, expected 0.25", res.MaxDefect)
			}
			if d := shots.MaxDefect(w); d > 1e-6 {
				t.Errorf("defect after one step on a linear model: %g", d)
			}
			if s0 := w.OptimizedState(0); s0[0] != 1 || s0[1] != 0 {
				t.Errorf("initial state moved to %v", s0)
			}

			K, err := Feedback(solver, shared.Settings.N, 2, 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(K) != shared.Settings.N {
				t.Errorf("got %d gains", len(K))
			}
		})
	}
}

func TestStepConvergesOnPendulum(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	shots := newShots(t, shared)
	w := shots.NewDecisionVector()
	_ = w.InitLinear(dynamo.State{0.5, 0}, dynamo.State{0, 0}, dynamo.Control{0})

	solver := lqoc.NewRiccatiSolver()
	p, err := lqoc.NewProblem(shared.Settings.N, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	initial := shots.MaxDefect(w)
	for i := 0; i < 6; i++ {
		if _, err := shots.Step(context.Background(), w, solver, p); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if final := shots.MaxDefect(w); final > 0.01*initial {
		t.Errorf("defect went from %g to %g", initial, final)
	}
}

func TestBuildProblemErrors(t *testing.T) {
	linear := newShared(t, "pendulum", func(s *Settings) { s.Spline = PiecewiseLinear })
	shots := newShots(t, linear)
	p, _ := lqoc.NewProblem(linear.Settings.N, 2, 1)
	if err := shots.BuildProblem(newVector(linear), p); !errors.Is(err, ErrCoupledSpline) {
		t.Errorf("expected ErrCoupledSpline, got %v", err)
	}

	shared := newShared(t, "pendulum", nil)
	shots = newShots(t, shared)
	wrong, _ := lqoc.NewProblem(shared.Settings.N+1, 2, 1)
	if err := shots.BuildProblem(newVector(shared), wrong); !errors.Is(err, lqoc.ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}

func TestBuildProblemKeepsConstraints(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	shots := newShots(t, shared)
	w := newVector(shared)
	p, _ := lqoc.NewProblem(shared.Settings.N, 2, 1)
	if err := p.SetControlBoxConstraints([]float64{-1}, []float64{1}); err != nil {
		t.Fatal(err)
	}

	if err := shots.BuildProblem(w, p); err != nil {
		t.Fatal(err)
	}
	if !p.IsControlBoxConstrained() {
		t.Error("box constraints were dropped")
	}
	defects := shots.Defects(w)
	for k := range defects {
		for d := range defects[k] {
			if p.Bias[k].AtVec(d) != defects[k][d] {
				t.Errorf("bias[%d][%d] = %g, defect %g", k, d, p.Bias[k].AtVec(d), defects[k][d])
			}
		}
		if p.X[k].AtVec(0) != w.OptimizedState(k)[0] {
			t.Errorf("nominal state %d not copied", k)
		}
	}
}
