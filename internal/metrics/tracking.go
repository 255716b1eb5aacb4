package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Reference yields the planned state at time t.
type Reference interface {
	Reference(t float64) dynamo.State
}

// TrackingError is the RMS distance between the rollout and a reference.
type TrackingError struct {
	name    string
	ref     Reference
	sumSq   float64
	samples int
}

func NewTrackingError(ref Reference) *TrackingError {
	return &TrackingError{name: "tracking_error", ref: ref}
}

func (m *TrackingError) Name() string { return m.name }

func (m *TrackingError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	d := floats.Distance(x, m.ref.Reference(t), 2)
	m.sumSq += d * d
	m.samples++
}

func (m *TrackingError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sumSq / float64(m.samples))
}

func (m *TrackingError) Reset() {
	m.sumSq = 0
	m.samples = 0
}
