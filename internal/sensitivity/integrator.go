package sensitivity

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
)

var (
	ErrNoLinearSystem = errors.New("sensitivity: no linear system set")
	ErrNoCostFunction = errors.New("sensitivity: no cost function set")
	ErrNotLinearized  = errors.New("sensitivity: trajectory has not been linearized")
	ErrShape          = errors.New("sensitivity: output has wrong shape")
)

// Input is the control signal over one integration interval together with
// the basis weights of its start and end parameters.
type Input interface {
	Control(t float64) dynamo.Control
	WeightStart(t float64) float64
	WeightEnd(t float64) float64
}

type stagePoint struct {
	t      float64
	x      dynamo.State
	u      dynamo.Control
	wS, wE float64
	A, B   *mat.Dense
}

// Integrator is not safe for concurrent use.
type Integrator struct {
	sys  dynamo.System
	lin  dynamo.LinearSystem
	cost costfunction.Function
	tab  integrators.Tableau

	states []dynamo.State
	times  []float64
	stages [][]stagePoint
	dK     []*mat.Dense
}

func New(sys dynamo.System, tab integrators.Tableau) (*Integrator, error) {
	if err := tab.Validate(); err != nil {
		return nil, err
	}
	return &Integrator{sys: sys, tab: tab}, nil
}

func (in *Integrator) SetLinearSystem(lin dynamo.LinearSystem) {
	in.lin = lin
}

func (in *Integrator) SetCostFunction(cost costfunction.Function) {
	in.cost = cost
}

func (in *Integrator) Scheme() integrators.Tableau {
	return in.tab
}

// step evaluates all stages from (x, t) and returns the stage points and slopes.
func (in *Integrator) step(x dynamo.State, t, dt float64, input Input) ([]stagePoint, []dynamo.State) {
	s := in.tab.Stages()
	pts := make([]stagePoint, s)
	k := make([]dynamo.State, s)
	for j := 0; j < s; j++ {
		X := x.Clone()
		for l, a := range in.tab.A[j] {
			if a == 0 {
				continue
			}
			for d := range X {
				X[d] += dt * a * k[l][d]
			}
		}
		tj := t + in.tab.C[j]*dt
		u := input.Control(tj)
		k[j] = in.sys.Derive(X, u, tj)
		pts[j] = stagePoint{t: tj, x: X, u: u, wS: input.WeightStart(tj), wE: input.WeightEnd(tj)}
	}
	return pts, k
}

// Integrate runs nSteps fixed steps from x0 and returns nSteps+1 states and times.
func (in *Integrator) Integrate(x0 dynamo.State, input Input, tStart float64, nSteps int, dt float64) ([]dynamo.State, []float64) {
	xs := make([]dynamo.State, nSteps+1)
	ts := make([]float64, nSteps+1)
	xs[0] = x0.Clone()
	ts[0] = tStart

	for i := 0; i < nSteps; i++ {
		_, k := in.step(xs[i], ts[i], dt, input)
		next := xs[i].Clone()
		for j, b := range in.tab.B {
			for d := range next {
				next[d] += dt * b * k[j][d]
			}
		}
		xs[i+1] = next
		ts[i+1] = tStart + float64(i+1)*dt
	}

	in.states, in.times = xs, ts
	return xs, ts
}

// States returns the trajectory of the last Integrate call.
func (in *Integrator) States() ([]dynamo.State, []float64) {
	return in.states, in.times
}

// Linearize evaluates the Jacobians at every stage point along xs, which
// must have been integrated with step dt.
func (in *Integrator) Linearize(xs []dynamo.State, ts []float64, input Input, dt float64) error {
	if in.lin == nil {
		return ErrNoLinearSystem
	}
	if len(xs) < 2 {
		in.stages = [][]stagePoint{}
		return nil
	}
	stages := make([][]stagePoint, len(xs)-1)
	for i := range stages {
		pts, _ := in.step(xs[i], ts[i], dt, input)
		for j := range pts {
			pts[j].A, pts[j].B = in.lin.Derivatives(pts[j].x, pts[j].u, pts[j].t)
		}
		stages[i] = pts
	}
	in.stages = stages
	return nil
}

// Cost is the Runge-Kutta quadrature of the running cost along xs.
func (in *Integrator) Cost(xs []dynamo.State, ts []float64, input Input, dt float64) (float64, error) {
	if in.cost == nil {
		return 0, ErrNoCostFunction
	}
	total := 0.0
	for i := 0; i+1 < len(xs); i++ {
		pts, _ := in.step(xs[i], ts[i], dt, input)
		for j, b := range in.tab.B {
			total += dt * b * in.cost.Intermediate(pts[j].x, pts[j].u)
		}
	}
	return total, nil
}

func weightStart(sp stagePoint) float64 { return sp.wS }
func weightEnd(sp stagePoint) float64   { return sp.wE }

// SensitivityDX0 propagates out, seeded by the caller, through the
// linearized stages. On return out holds dx(tEnd)/dx0.
func (in *Integrator) SensitivityDX0(out *mat.Dense, dt float64) error {
	return in.propagate(out, nil, dt, nil)
}

// SensitivityDU0 is the end-state sensitivity to the start control parameter.
func (in *Integrator) SensitivityDU0(out *mat.Dense, dt float64) error {
	return in.propagate(out, weightStart, dt, nil)
}

// SensitivityDUf is the end-state sensitivity to the end control parameter.
func (in *Integrator) SensitivityDUf(out *mat.Dense, dt float64) error {
	return in.propagate(out, weightEnd, dt, nil)
}

// CostSensitivityDX0 adds dJ/dx0 to out.
func (in *Integrator) CostSensitivityDX0(out *mat.VecDense, dt float64) error {
	nx := in.sys.StateDim()
	S := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		S.Set(i, i, 1)
	}
	return in.costGradient(out, S, nil, dt)
}

// CostSensitivityDU0 adds dJ/du0 to out.
func (in *Integrator) CostSensitivityDU0(out *mat.VecDense, dt float64) error {
	return in.costGradient(out, mat.NewDense(in.sys.StateDim(), in.sys.ControlDim(), nil), weightStart, dt)
}

// CostSensitivityDUf adds dJ/duf to out.
func (in *Integrator) CostSensitivityDUf(out *mat.VecDense, dt float64) error {
	return in.costGradient(out, mat.NewDense(in.sys.StateDim(), in.sys.ControlDim(), nil), weightEnd, dt)
}

func (in *Integrator) costGradient(out *mat.VecDense, seed *mat.Dense, weight func(stagePoint) float64, dt float64) error {
	if in.cost == nil {
		return ErrNoCostFunction
	}
	if _, p := seed.Dims(); out.Len() != p {
		return ErrShape
	}
	return in.propagate(seed, weight, dt, out)
}

// propagate pushes S through every cached stage. weight selects the control
// parameter, nil meaning the initial state. When grad is non-nil the cost
// gradient with respect to the same parameter is accumulated into it.
func (in *Integrator) propagate(S *mat.Dense, weight func(stagePoint) float64, dt float64, grad *mat.VecDense) error {
	if in.stages == nil {
		return ErrNotLinearized
	}
	nx, p := S.Dims()
	if nx != in.sys.StateDim() || (weight != nil && p != in.sys.ControlDim()) {
		return ErrShape
	}

	s := in.tab.Stages()
	if len(in.dK) != s {
		in.dK = make([]*mat.Dense, s)
	}
	for j := range in.dK {
		if in.dK[j] == nil {
			in.dK[j] = mat.NewDense(nx, p, nil)
			continue
		}
		if r, c := in.dK[j].Dims(); r != nx || c != p {
			in.dK[j] = mat.NewDense(nx, p, nil)
		}
	}

	dX := mat.NewDense(nx, p, nil)
	var tmp mat.Dense
	for _, pts := range in.stages {
		for j, sp := range pts {
			dX.Copy(S)
			for l, a := range in.tab.A[j] {
				if a != 0 {
					tmp.Scale(dt*a, in.dK[l])
					dX.Add(dX, &tmp)
				}
			}

			w := 0.0
			if weight != nil {
				w = weight(sp)
			}
			in.dK[j].Mul(sp.A, dX)
			if w != 0 {
				tmp.Scale(w, sp.B)
				in.dK[j].Add(in.dK[j], &tmp)
			}

			if grad != nil {
				var g mat.VecDense
				g.MulVec(dX.T(), in.cost.StateDerivative(sp.x, sp.u))
				if w != 0 {
					g.AddScaledVec(&g, w, in.cost.ControlDerivative(sp.x, sp.u))
				}
				grad.AddScaledVec(grad, dt*in.tab.B[j], &g)
			}
		}
		for j, b := range in.tab.B {
			if b != 0 {
				tmp.Scale(dt*b, in.dK[j])
				S.Add(S, &tmp)
			}
		}
	}
	return nil
}

func (in *Integrator) ClearStates() {
	in.states = nil
	in.times = nil
}

func (in *Integrator) ClearSensitivities() {
	in.dK = nil
}

func (in *Integrator) ClearLinearization() {
	in.stages = nil
}
