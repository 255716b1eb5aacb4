package lqoc

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
)

const (
	horizon = 5
	stepDt  = 0.5
)

func scaledIdentity(n int, v float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, v)
	}
	return m
}

// newBenchmarkProblem discretizes model with the matrix exponential and
// attaches Q = 2I, R = 4I, Qf = Q around x0 = [2.5, 0], xf = 0.
func newBenchmarkProblem(model dynamo.LinearSystem) (*Problem, *physics.DiscreteLinearSystem) {
	x0 := dynamo.State{2.5, 0}
	u0 := dynamo.Control{0}
	xf := dynamo.State{0, 0}

	sys, err := physics.NewDiscreteLinearSystem(model, x0, u0, stepDt, physics.MatrixExponential)
	if err != nil {
		panic(err)
	}
	cost, err := costfunction.NewQuadratic(scaledIdentity(2, 2), scaledIdentity(1, 4), scaledIdentity(2, 2), xf, u0, xf)
	if err != nil {
		panic(err)
	}
	p, err := NewProblem(horizon, 2, 1)
	if err != nil {
		panic(err)
	}
	if err := p.SetFromTimeInvariantLinearQuadraticProblem(x0, u0, sys, cost, nil, stepDt); err != nil {
		panic(err)
	}
	return p, sys
}
