// Package costfunction implements the quadratic tracking cost used by the
// optimal control problems.
package costfunction

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

var ErrDimension = errors.New("costfunction: weight matrix dimension mismatch")

// Function is the cost interface consumed by the integrators and the LQOC
// assembly.
type Function interface {
	Intermediate(x dynamo.State, u dynamo.Control) float64
	StateDerivative(x dynamo.State, u dynamo.Control) *mat.VecDense
	ControlDerivative(x dynamo.State, u dynamo.Control) *mat.VecDense
	StateSecondDerivative(x dynamo.State, u dynamo.Control) *mat.Dense
	ControlSecondDerivative(x dynamo.State, u dynamo.Control) *mat.Dense
	StateControlDerivative(x dynamo.State, u dynamo.Control) *mat.Dense
	Terminal(x dynamo.State) float64
	TerminalStateDerivative(x dynamo.State) *mat.VecDense
	TerminalStateSecondDerivative(x dynamo.State) *mat.Dense
}

// Quadratic is
//
//	L(x, u) = ½(x-xn)ᵀQ(x-xn) + ½(u-un)ᵀR(u-un)
//	Φ(x)    = ½(x-xf)ᵀQf(x-xf)
type Quadratic struct {
	Q, R, Qf *mat.Dense
	XNominal dynamo.State
	UNominal dynamo.Control
	XFinal   dynamo.State
	nx, nu   int
}

func NewQuadratic(Q, R, Qf *mat.Dense, xNominal dynamo.State, uNominal dynamo.Control, xFinal dynamo.State) (*Quadratic, error) {
	nx, c := Q.Dims()
	if nx != c {
		return nil, fmt.Errorf("Q is %dx%d: %w", nx, c, ErrDimension)
	}
	nu, c := R.Dims()
	if nu != c {
		return nil, fmt.Errorf("R is %dx%d: %w", nu, c, ErrDimension)
	}
	if r, c := Qf.Dims(); r != nx || c != nx {
		return nil, fmt.Errorf("Qf is %dx%d, want %dx%d: %w", r, c, nx, nx, ErrDimension)
	}
	if len(xNominal) != nx || len(xFinal) != nx || len(uNominal) != nu {
		return nil, fmt.Errorf("nominal trajectory: %w", ErrDimension)
	}
	return &Quadratic{
		Q: Q, R: R, Qf: Qf,
		XNominal: xNominal.Clone(),
		UNominal: uNominal.Clone(),
		XFinal:   xFinal.Clone(),
		nx:       nx,
		nu:       nu,
	}, nil
}

// NewDiagonal builds a cost from weight diagonals, nominal x = xf and u = 0.
func NewDiagonal(q, r, qf []float64, xFinal dynamo.State) (*Quadratic, error) {
	return NewQuadratic(diag(q), diag(r), diag(qf), xFinal, make(dynamo.Control, len(r)), xFinal)
}

func diag(d []float64) *mat.Dense {
	m := mat.NewDense(len(d), len(d), nil)
	for i, v := range d {
		m.Set(i, i, v)
	}
	return m
}

func (c *Quadratic) StateDim() int   { return c.nx }
func (c *Quadratic) ControlDim() int { return c.nu }

func quadForm(W mat.Matrix, v *mat.VecDense) float64 {
	return 0.5 * mat.Inner(v, W, v)
}

func (c *Quadratic) dx(x dynamo.State, ref dynamo.State) *mat.VecDense {
	d := mat.NewVecDense(c.nx, nil)
	d.SubVec(x.Vec(), ref.Vec())
	return d
}

func (c *Quadratic) du(u dynamo.Control) *mat.VecDense {
	d := mat.NewVecDense(c.nu, nil)
	d.SubVec(u.Vec(), c.UNominal.Vec())
	return d
}

func (c *Quadratic) Intermediate(x dynamo.State, u dynamo.Control) float64 {
	return quadForm(c.Q, c.dx(x, c.XNominal)) + quadForm(c.R, c.du(u))
}

func (c *Quadratic) StateDerivative(x dynamo.State, u dynamo.Control) *mat.VecDense {
	g := mat.NewVecDense(c.nx, nil)
	g.MulVec(c.Q, c.dx(x, c.XNominal))
	return g
}

func (c *Quadratic) ControlDerivative(x dynamo.State, u dynamo.Control) *mat.VecDense {
	g := mat.NewVecDense(c.nu, nil)
	g.MulVec(c.R, c.du(u))
	return g
}

func (c *Quadratic) StateSecondDerivative(x dynamo.State, u dynamo.Control) *mat.Dense {
	return mat.DenseCopyOf(c.Q)
}

func (c *Quadratic) ControlSecondDerivative(x dynamo.State, u dynamo.Control) *mat.Dense {
	return mat.DenseCopyOf(c.R)
}

// StateControlDerivative is the nu×nx cross term, zero for this cost.
func (c *Quadratic) StateControlDerivative(x dynamo.State, u dynamo.Control) *mat.Dense {
	return mat.NewDense(c.nu, c.nx, nil)
}

func (c *Quadratic) Terminal(x dynamo.State) float64 {
	return quadForm(c.Qf, c.dx(x, c.XFinal))
}

func (c *Quadratic) TerminalStateDerivative(x dynamo.State) *mat.VecDense {
	g := mat.NewVecDense(c.nx, nil)
	g.MulVec(c.Qf, c.dx(x, c.XFinal))
	return g
}

func (c *Quadratic) TerminalStateSecondDerivative(x dynamo.State) *mat.Dense {
	return mat.DenseCopyOf(c.Qf)
}
