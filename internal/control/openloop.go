package control

import "github.com/san-kum/dynopt/internal/dynamo"

// OpenLoop replays piecewise-constant controls and ignores the state. After
// the last stage it holds zero.
type OpenLoop struct {
	U  []dynamo.Control
	Dt float64
}

func NewOpenLoop(u []dynamo.Control, dt float64) *OpenLoop {
	return &OpenLoop{U: u, Dt: dt}
}

func (o *OpenLoop) Compute(x dynamo.State, t float64) dynamo.Control {
	k := int(t/o.Dt + 1e-9)
	if k < 0 || k >= len(o.U) {
		if len(o.U) == 0 {
			return nil
		}
		return make(dynamo.Control, len(o.U[0]))
	}
	return o.U[k].Clone()
}
