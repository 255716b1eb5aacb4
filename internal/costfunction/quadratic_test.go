package costfunction

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func newTestCost(t *testing.T) *Quadratic {
	t.Helper()
	Q := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})
	R := mat.NewDense(1, 1, []float64{4})
	Qf := mat.NewDense(2, 2, []float64{10, 0, 0, 10})
	c, err := NewQuadratic(Q, R, Qf, dynamo.State{1, 0}, dynamo.Control{0.5}, dynamo.State{0, 0})
	if err != nil {
		t.Fatalf("NewQuadratic: %v", err)
	}
	return c
}

func TestIntermediateValue(t *testing.T) {
	c := newTestCost(t)
	// dx = [1, 2], du = [1]
	got := c.Intermediate(dynamo.State{2, 2}, dynamo.Control{1.5})
	want := 0.5*(2*1+2*0.5*1*2+1*4) + 0.5*4
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Intermediate = %f, want %f", got, want)
	}
}

func TestDerivativesMatchFiniteDifferences(t *testing.T) {
	c := newTestCost(t)
	x := dynamo.State{0.3, -1.2}
	u := dynamo.Control{0.7}
	h := 1e-6

	gx := c.StateDerivative(x, u)
	for i := range x {
		xp, xm := x.Clone(), x.Clone()
		xp[i] += h
		xm[i] -= h
		fd := (c.Intermediate(xp, u) - c.Intermediate(xm, u)) / (2 * h)
		if math.Abs(fd-gx.AtVec(i)) > 1e-6 {
			t.Errorf("dL/dx[%d] = %f, fd %f", i, gx.AtVec(i), fd)
		}
	}

	gu := c.ControlDerivative(x, u)
	fd := (c.Intermediate(x, dynamo.Control{u[0] + h}) - c.Intermediate(x, dynamo.Control{u[0] - h})) / (2 * h)
	if math.Abs(fd-gu.AtVec(0)) > 1e-6 {
		t.Errorf("dL/du = %f, fd %f", gu.AtVec(0), fd)
	}

	gf := c.TerminalStateDerivative(x)
	for i := range x {
		xp, xm := x.Clone(), x.Clone()
		xp[i] += h
		xm[i] -= h
		fd := (c.Terminal(xp) - c.Terminal(xm)) / (2 * h)
		if math.Abs(fd-gf.AtVec(i)) > 1e-5 {
			t.Errorf("dPhi/dx[%d] = %f, fd %f", i, gf.AtVec(i), fd)
		}
	}
}

func TestSecondDerivatives(t *testing.T) {
	c := newTestCost(t)
	x := dynamo.State{0, 0}
	u := dynamo.Control{0}
	if !mat.Equal(c.StateSecondDerivative(x, u), c.Q) {
		t.Error("state Hessian should equal Q")
	}
	if !mat.Equal(c.ControlSecondDerivative(x, u), c.R) {
		t.Error("control Hessian should equal R")
	}
	if r, cc := c.StateControlDerivative(x, u).Dims(); r != 1 || cc != 2 {
		t.Errorf("cross term is %dx%d, want 1x2", r, cc)
	}
	if !mat.Equal(c.TerminalStateSecondDerivative(x), c.Qf) {
		t.Error("terminal Hessian should equal Qf")
	}
}

func TestDimensionErrors(t *testing.T) {
	Q := mat.NewDense(2, 2, nil)
	R := mat.NewDense(1, 1, nil)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"non-square Q", func() error {
			_, err := NewQuadratic(mat.NewDense(2, 3, nil), R, Q, dynamo.State{0, 0}, dynamo.Control{0}, dynamo.State{0, 0})
			return err
		}},
		{"Qf size", func() error {
			_, err := NewQuadratic(Q, R, mat.NewDense(3, 3, nil), dynamo.State{0, 0}, dynamo.Control{0}, dynamo.State{0, 0})
			return err
		}},
		{"nominal length", func() error {
			_, err := NewQuadratic(Q, R, Q, dynamo.State{0}, dynamo.Control{0}, dynamo.State{0, 0})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrDimension) {
				t.Errorf("expected ErrDimension, got %v", err)
			}
		})
	}
}

func TestNewDiagonal(t *testing.T) {
	c, err := NewDiagonal([]float64{2, 2}, []float64{4}, []float64{2, 2}, dynamo.State{0, 0})
	if err != nil {
		t.Fatalf("NewDiagonal: %v", err)
	}
	if c.StateDim() != 2 || c.ControlDim() != 1 {
		t.Errorf("unexpected dims %d %d", c.StateDim(), c.ControlDim())
	}
	if got := c.Terminal(dynamo.State{1, 1}); math.Abs(got-2) > 1e-12 {
		t.Errorf("Terminal = %f, want 2", got)
	}
}
