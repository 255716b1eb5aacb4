package integrators

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Tableau holds the Butcher coefficients of an explicit Runge-Kutta method.
// A is strictly lower triangular: row i lists the weights of stages 0..i-1.
type Tableau struct {
	Name string
	A    [][]float64
	B    []float64
	C    []float64
}

func (tb Tableau) Stages() int {
	return len(tb.B)
}

// Validate checks the shape of the coefficient arrays.
func (tb Tableau) Validate() error {
	s := len(tb.B)
	if s == 0 || len(tb.C) != s || len(tb.A) != s {
		return fmt.Errorf("tableau %q: inconsistent stage count", tb.Name)
	}
	for i, row := range tb.A {
		if len(row) != i {
			return fmt.Errorf("tableau %q: row %d must have %d entries", tb.Name, i, i)
		}
	}
	return nil
}

var EulerTableau = Tableau{
	Name: "euler",
	A:    [][]float64{{}},
	B:    []float64{1},
	C:    []float64{0},
}

var RK4Tableau = Tableau{
	Name: "rk4",
	A: [][]float64{
		{},
		{0.5},
		{0, 0.5},
		{0, 0, 1},
	},
	B: []float64{1.0 / 6.0, 1.0 / 3.0, 1.0 / 3.0, 1.0 / 6.0},
	C: []float64{0, 0.5, 0.5, 1},
}

// Explicit steps any explicit tableau. Stage buffers are reused between calls,
// so an Explicit must not be shared between goroutines.
type Explicit struct {
	tab     Tableau
	k       []dynamo.State
	scratch dynamo.State
}

func NewExplicit(tab Tableau) *Explicit {
	return &Explicit{tab: tab}
}

func (e *Explicit) Tableau() Tableau {
	return e.tab
}

func (e *Explicit) ensureScratch(n int) {
	if len(e.scratch) == n && len(e.k) == e.tab.Stages() {
		return
	}
	e.k = make([]dynamo.State, e.tab.Stages())
	for i := range e.k {
		e.k[i] = make(dynamo.State, n)
	}
	e.scratch = make(dynamo.State, n)
}

// stagePoint writes the state at which stage i is evaluated into dst.
func (e *Explicit) stagePoint(dst, x dynamo.State, i int, dt float64) {
	copy(dst, x)
	for j, a := range e.tab.A[i] {
		if a == 0 {
			continue
		}
		for d := range dst {
			dst[d] += dt * a * e.k[j][d]
		}
	}
}

func (e *Explicit) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	e.ensureScratch(n)

	for i := 0; i < e.tab.Stages(); i++ {
		e.stagePoint(e.scratch, x, i, dt)
		copy(e.k[i], dyn.Derive(e.scratch, u, t+e.tab.C[i]*dt))
	}

	result := x.Clone()
	for i, b := range e.tab.B {
		for d := 0; d < n; d++ {
			result[d] += dt * b * e.k[i][d]
		}
	}
	return result
}
