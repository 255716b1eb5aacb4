package dms

import (
	"fmt"
	"sync/atomic"

	"github.com/san-kum/dynopt/internal/dynamo"
)

var nextInstance atomic.Uint64

// Version identifies one content revision of one DecisionVector.
type Version struct {
	Instance uint64
	Count    uint64
}

// DecisionVector holds the shot initial states s_0..s_N and the control
// parameters q_0..q_N. Every mutation increments the update count. It is not
// synchronized: mutate only between integration passes.
type DecisionVector struct {
	instance uint64
	count    uint64
	states   []dynamo.State
	controls []dynamo.Control
}

func NewDecisionVector(N, nx, nu int) *DecisionVector {
	w := &DecisionVector{
		instance: nextInstance.Add(1),
		states:   make([]dynamo.State, N+1),
		controls: make([]dynamo.Control, N+1),
	}
	for i := 0; i <= N; i++ {
		w.states[i] = make(dynamo.State, nx)
		w.controls[i] = make(dynamo.Control, nu)
	}
	return w
}

func (w *DecisionVector) Version() Version {
	return Version{Instance: w.instance, Count: w.count}
}

func (w *DecisionVector) UpdateCount() uint64 {
	return w.count
}

// Shots returns N.
func (w *DecisionVector) Shots() int {
	return len(w.states) - 1
}

// OptimizedState returns s_i. The slice must not be modified.
func (w *DecisionVector) OptimizedState(i int) dynamo.State {
	return w.states[i]
}

// OptimizedControl returns q_i. The slice must not be modified.
func (w *DecisionVector) OptimizedControl(i int) dynamo.Control {
	return w.controls[i]
}

func (w *DecisionVector) SetState(i int, x dynamo.State) error {
	if i < 0 || i >= len(w.states) || len(x) != len(w.states[i]) {
		return fmt.Errorf("state %d: %w", i, dynamo.ErrDimensionMismatch)
	}
	copy(w.states[i], x)
	w.count++
	return nil
}

func (w *DecisionVector) SetControl(i int, u dynamo.Control) error {
	if i < 0 || i >= len(w.controls) || len(u) != len(w.controls[i]) {
		return fmt.Errorf("control %d: %w", i, dynamo.ErrDimensionMismatch)
	}
	copy(w.controls[i], u)
	w.count++
	return nil
}

// InitLinear interpolates states from x0 to xf and sets all controls to u.
func (w *DecisionVector) InitLinear(x0, xf dynamo.State, u dynamo.Control) error {
	N := w.Shots()
	if len(x0) != len(w.states[0]) || len(xf) != len(x0) || len(u) != len(w.controls[0]) {
		return dynamo.ErrDimensionMismatch
	}
	for i := 0; i <= N; i++ {
		s := float64(i) / float64(N)
		for d := range x0 {
			w.states[i][d] = (1-s)*x0[d] + s*xf[d]
		}
		copy(w.controls[i], u)
	}
	w.count++
	return nil
}

// Apply adds alpha·dx and alpha·du. Controls beyond len(du) are unchanged.
func (w *DecisionVector) Apply(dx []dynamo.State, du []dynamo.Control, alpha float64) error {
	if len(dx) != len(w.states) || len(du) > len(w.controls) {
		return dynamo.ErrDimensionMismatch
	}
	for i, d := range dx {
		for j := range d {
			w.states[i][j] += alpha * d[j]
		}
	}
	for i, d := range du {
		for j := range d {
			w.controls[i][j] += alpha * d[j]
		}
	}
	w.count++
	return nil
}

// Clone copies the content into a vector with its own identity.
func (w *DecisionVector) Clone() *DecisionVector {
	c := &DecisionVector{
		instance: nextInstance.Add(1),
		states:   make([]dynamo.State, len(w.states)),
		controls: make([]dynamo.Control, len(w.controls)),
	}
	for i := range w.states {
		c.states[i] = w.states[i].Clone()
		c.controls[i] = w.controls[i].Clone()
	}
	return c
}
