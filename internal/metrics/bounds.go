package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// BoundViolation records the largest excursion outside box bounds on states
// and controls. Nil bounds are ignored.
type BoundViolation struct {
	name           string
	xLower, xUpper []float64
	uLower, uUpper []float64
	worst          float64
}

func NewBoundViolation(xLower, xUpper, uLower, uUpper []float64) *BoundViolation {
	return &BoundViolation{
		name:   "bound_violation",
		xLower: xLower,
		xUpper: xUpper,
		uLower: uLower,
		uUpper: uUpper,
	}
}

func (b *BoundViolation) Name() string { return b.name }

func excess(v, lower, upper []float64) float64 {
	worst := 0.0
	for i, val := range v {
		if i < len(lower) {
			worst = math.Max(worst, lower[i]-val)
		}
		if i < len(upper) {
			worst = math.Max(worst, val-upper[i])
		}
	}
	return worst
}

func (b *BoundViolation) Observe(x dynamo.State, u dynamo.Control, t float64) {
	b.worst = math.Max(b.worst, excess(x, b.xLower, b.xUpper))
	b.worst = math.Max(b.worst, excess(u, b.uLower, b.uUpper))
}

func (b *BoundViolation) Value() float64 { return b.worst }

func (b *BoundViolation) Reset() { b.worst = 0 }
