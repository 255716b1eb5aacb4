package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
)

type constRef dynamo.State

func (r constRef) Reference(t float64) dynamo.State { return dynamo.State(r) }

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(nil, dynamo.Control{1, -2}, 0)
	m.Observe(nil, dynamo.Control{0, 1}, 0.1)
	if v := m.Value(); v != 2 {
		t.Errorf("expected 2, got %f", v)
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("reset should clear the metric")
	}
}

func TestTrackingError(t *testing.T) {
	m := NewTrackingError(constRef{0, 0})
	m.Observe(dynamo.State{3, 4}, nil, 0)
	m.Observe(dynamo.State{0, 0}, nil, 0.1)
	if v := m.Value(); math.Abs(v-math.Sqrt(12.5)) > 1e-12 {
		t.Errorf("expected rms %f, got %f", math.Sqrt(12.5), v)
	}
}

func TestBoundViolation(t *testing.T) {
	m := NewBoundViolation([]float64{-1, -1}, []float64{1, 1}, nil, []float64{0.5})
	m.Observe(dynamo.State{0, 0}, dynamo.Control{0.4}, 0)
	if m.Value() != 0 {
		t.Errorf("no violation expected, got %f", m.Value())
	}
	m.Observe(dynamo.State{-1.5, 0}, dynamo.Control{0.7}, 0.1)
	if math.Abs(m.Value()-0.5) > 1e-12 {
		t.Errorf("expected 0.5, got %f", m.Value())
	}
	m.Observe(dynamo.State{0, 0}, dynamo.Control{-10}, 0.2)
	if math.Abs(m.Value()-0.5) > 1e-12 {
		t.Errorf("unbounded side should be ignored, got %f", m.Value())
	}
}

func TestCost(t *testing.T) {
	fn, err := costfunction.NewDiagonal([]float64{2}, []float64{0}, []float64{0}, dynamo.State{0})
	if err != nil {
		t.Fatal(err)
	}
	m := NewCost(fn)
	// L = ½·2·x² = x²
	m.Observe(dynamo.State{1}, dynamo.Control{0}, 0)
	m.Observe(dynamo.State{2}, dynamo.Control{0}, 0.5)
	m.Observe(dynamo.State{0}, dynamo.Control{0}, 1.0)
	if v := m.Value(); math.Abs(v-2.5) > 1e-12 {
		t.Errorf("expected 2.5, got %f", v)
	}
}
