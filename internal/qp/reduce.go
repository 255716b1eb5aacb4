package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PinnedCurvature stands in for the unbounded barrier Hessian of a variable
// whose lower and upper bounds coincide.
const PinnedCurvature = 1e10

// reduction maps a problem with pinned variables onto its free variables.
type reduction struct {
	problem *Problem // nil when every variable is pinned
	free    []int
	rows    []int
	pinned  []bool
}

// reduce substitutes the pinned values into the objective and the equality
// rows. Rows left without a free variable must already hold and are dropped.
func (p *Problem) reduce(pinned []bool, tol float64) (*reduction, error) {
	n, m := p.Dim(), p.equalities()
	r := &reduction{pinned: pinned}
	fixed := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if pinned[i] {
			fixed.SetVec(i, p.Lower[i])
		} else {
			r.free = append(r.free, i)
		}
	}

	// rhs = e - E z_pinned
	var rhs *mat.VecDense
	if m > 0 {
		rhs = mat.NewVecDense(m, nil)
		rhs.MulVec(p.E, fixed)
		rhs.SubVec(p.e, rhs)
	}
	for j := 0; j < m; j++ {
		touchesFree := false
		for _, i := range r.free {
			if p.E.At(j, i) != 0 {
				touchesFree = true
				break
			}
		}
		if touchesFree {
			r.rows = append(r.rows, j)
			continue
		}
		if math.Abs(rhs.AtVec(j)) > tol*(1+math.Abs(p.e.AtVec(j))) {
			return nil, fmt.Errorf("equality %d violated by pinned variables: %w", j, ErrInfeasible)
		}
	}

	nf := len(r.free)
	if nf == 0 {
		return r, nil
	}

	H := mat.NewSymDense(nf, nil)
	g := mat.NewVecDense(nf, nil)
	var hz mat.VecDense
	hz.MulVec(p.H, fixed)
	lower := make([]float64, nf)
	upper := make([]float64, nf)
	for a, i := range r.free {
		for b := a; b < nf; b++ {
			H.SetSym(a, b, p.H.At(i, r.free[b]))
		}
		g.SetVec(a, p.G.AtVec(i)+hz.AtVec(i))
		lower[a], upper[a] = p.Lower[i], p.Upper[i]
	}

	var E *mat.Dense
	var e *mat.VecDense
	if len(r.rows) > 0 {
		E = mat.NewDense(len(r.rows), nf, nil)
		e = mat.NewVecDense(len(r.rows), nil)
		for a, j := range r.rows {
			for b, i := range r.free {
				E.Set(a, b, p.E.At(j, i))
			}
			e.SetVec(a, rhs.AtVec(j))
		}
	}

	reduced, err := NewProblem(H, g, E, e, lower, upper)
	if err != nil {
		return nil, err
	}
	r.problem = reduced
	return r, nil
}

// expand lifts a result of the reduced problem back onto p.
func (r *reduction) expand(p *Problem, res *Result) *Result {
	n := p.Dim()
	out := &Result{
		Z:          mat.NewVecDense(n, nil),
		Y:          mat.NewVecDense(max(p.equalities(), 1), nil),
		Sigma:      make([]float64, n),
		Iterations: res.Iterations,
	}
	for i := 0; i < n; i++ {
		if r.pinned[i] {
			out.Z.SetVec(i, p.Lower[i])
			out.Sigma[i] = PinnedCurvature
		}
	}
	for a, i := range r.free {
		out.Z.SetVec(i, res.Z.AtVec(a))
		out.Sigma[i] = res.Sigma[a]
	}
	for a, j := range r.rows {
		out.Y.SetVec(j, res.Y.AtVec(a))
	}
	return out
}
