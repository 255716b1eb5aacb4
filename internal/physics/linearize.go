package physics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

const defaultJump = 1e-6

// NumDiff linearizes any System with central finite differences.
type NumDiff struct {
	Sys  dynamo.System
	Jump float64
}

func (n NumDiff) StateDim() int   { return n.Sys.StateDim() }
func (n NumDiff) ControlDim() int { return n.Sys.ControlDim() }

func (n NumDiff) Derivatives(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	nx, nu := n.Sys.StateDim(), n.Sys.ControlDim()
	jump := n.Jump
	if jump <= 0 {
		jump = defaultJump
	}

	A := mat.NewDense(nx, nx, nil)
	xp := x.Clone()
	for j := 0; j < nx; j++ {
		h := jump * math.Max(1, math.Abs(x[j]))
		xp[j] = x[j] + h
		fp := n.Sys.Derive(xp, u, t)
		xp[j] = x[j] - h
		fm := n.Sys.Derive(xp, u, t)
		xp[j] = x[j]
		for i := 0; i < nx; i++ {
			A.Set(i, j, (fp[i]-fm[i])/(2*h))
		}
	}

	B := mat.NewDense(nx, nu, nil)
	up := u.Clone()
	for j := 0; j < nu; j++ {
		h := jump * math.Max(1, math.Abs(u[j]))
		up[j] = u[j] + h
		fp := n.Sys.Derive(x, up, t)
		up[j] = u[j] - h
		fm := n.Sys.Derive(x, up, t)
		up[j] = u[j]
		for i := 0; i < nx; i++ {
			B.Set(i, j, (fp[i]-fm[i])/(2*h))
		}
	}
	return A, B
}

// DiscretizationMethod selects how a continuous linear model is turned into
// x[k+1] = Ad x[k] + Bd u[k].
type DiscretizationMethod int

const (
	MatrixExponential DiscretizationMethod = iota
	ForwardEuler
)

var ErrBadTimestep = errors.New("physics: discretization timestep must be positive")

// Discretize converts (A, B) into the zero-order-hold pair (Ad, Bd).
//
// The matrix exponential variant exponentiates [[A B] [0 0]]*dt, whose top
// blocks are exactly Ad and Bd.
func Discretize(A, B mat.Matrix, dt float64, method DiscretizationMethod) (*mat.Dense, *mat.Dense, error) {
	if dt <= 0 {
		return nil, nil, ErrBadTimestep
	}
	nx, _ := A.Dims()
	_, nu := B.Dims()

	switch method {
	case ForwardEuler:
		Ad := mat.NewDense(nx, nx, nil)
		Ad.Scale(dt, A)
		for i := 0; i < nx; i++ {
			Ad.Set(i, i, Ad.At(i, i)+1)
		}
		Bd := mat.NewDense(nx, nu, nil)
		Bd.Scale(dt, B)
		return Ad, Bd, nil
	case MatrixExponential:
		m := nx + nu
		M := mat.NewDense(m, m, nil)
		M.Slice(0, nx, 0, nx).(*mat.Dense).Scale(dt, A)
		M.Slice(0, nx, nx, m).(*mat.Dense).Scale(dt, B)
		var E mat.Dense
		E.Exp(M)
		Ad := mat.DenseCopyOf(E.Slice(0, nx, 0, nx))
		Bd := mat.DenseCopyOf(E.Slice(0, nx, nx, m))
		return Ad, Bd, nil
	default:
		return nil, nil, errors.New("physics: unknown discretization method")
	}
}

// DiscreteLinearSystem is a time-invariant x[k+1] = A x[k] + B u[k].
type DiscreteLinearSystem struct {
	A, B *mat.Dense
}

// NewDiscreteLinearSystem linearizes sys at (x, u) and discretizes the result.
func NewDiscreteLinearSystem(sys dynamo.LinearSystem, x dynamo.State, u dynamo.Control, dt float64, method DiscretizationMethod) (*DiscreteLinearSystem, error) {
	A, B := sys.Derivatives(x, u, 0)
	Ad, Bd, err := Discretize(A, B, dt, method)
	if err != nil {
		return nil, err
	}
	return &DiscreteLinearSystem{A: Ad, B: Bd}, nil
}

func (d *DiscreteLinearSystem) StateDim() int {
	r, _ := d.A.Dims()
	return r
}

func (d *DiscreteLinearSystem) ControlDim() int {
	_, c := d.B.Dims()
	return c
}

// Derivatives returns the stored matrices regardless of the operating point.
func (d *DiscreteLinearSystem) Derivatives(x dynamo.State, u dynamo.Control, k float64) (*mat.Dense, *mat.Dense) {
	return d.A, d.B
}

func (d *DiscreteLinearSystem) Propagate(x dynamo.State, u dynamo.Control) dynamo.State {
	var next mat.VecDense
	next.MulVec(d.A, x.Vec())
	if len(u) > 0 {
		var bu mat.VecDense
		bu.MulVec(d.B, u.Vec())
		next.AddVec(&next, &bu)
	}
	return dynamo.StateFromVec(&next)
}
