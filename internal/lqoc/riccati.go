package lqoc

import (
	"gonum.org/v1/gonum/mat"
)

// RiccatiSolver solves unconstrained problems with the backward Riccati
// recursion followed by a forward rollout of the affine policy.
type RiccatiSolver struct {
	solution
}

func NewRiccatiSolver(opts ...Option) *RiccatiSolver {
	o := buildOptions(opts)
	return &RiccatiSolver{solution: solution{logger: o.logger}}
}

// Solve rejects problems carrying box constraints with
// ErrConstraintsUnsupported; use InteriorPointSolver for those.
func (r *RiccatiSolver) Solve() error {
	r.clear()
	p := r.problem
	if p == nil {
		return ErrNoProblem
	}
	if err := p.Validate(); err != nil {
		return &SolveError{Strategy: "riccati", Stage: -1, Err: err}
	}
	if p.IsConstrained() {
		return &SolveError{Strategy: "riccati", Stage: -1, Err: ErrConstraintsUnsupported}
	}

	K, l, err := backward(p, nil, nil)
	if err != nil {
		return err
	}

	dx := make([]*mat.VecDense, p.n+1)
	du := make([]*mat.VecDense, p.n)
	dx[0] = mat.NewVecDense(p.nx, nil)
	for k := 0; k < p.n; k++ {
		du[k] = mat.NewVecDense(p.nu, nil)
		du[k].MulVec(K[k], dx[k])
		du[k].AddVec(du[k], l[k])

		dx[k+1] = mat.NewVecDense(p.nx, nil)
		dx[k+1].MulVec(p.A[k], dx[k])
		var bu mat.VecDense
		bu.MulVec(p.B[k], du[k])
		dx[k+1].AddVec(dx[k+1], &bu)
		dx[k+1].AddVec(dx[k+1], p.Bias[k])
	}

	r.store(dx, du, K)
	r.logger.Debugw("riccati solve", "stages", p.n, "objective", p.Objective(dx, du))
	return nil
}

// backward runs the Riccati recursion and returns the gains K and feedforward
// terms l of the policy δu = l + K δx. sigmaX and sigmaU, when non-nil, are
// added to the diagonals of Q[k] (k ≥ 1) and R[k].
func backward(p *Problem, sigmaX, sigmaU [][]float64) ([]*mat.Dense, []*mat.VecDense, error) {
	nx, nu := p.nx, p.nu
	S := mat.DenseCopyOf(p.Q[p.n])
	addDiag(S, sigmaX, p.n)
	s := mat.VecDenseCopyOf(p.Qv[p.n])

	K := make([]*mat.Dense, p.n)
	l := make([]*mat.VecDense, p.n)
	for k := p.n - 1; k >= 0; k-- {
		A, B := p.A[k], p.B[k]

		var SA, SB mat.Dense
		SA.Mul(S, A)
		SB.Mul(S, B)

		H := mat.NewDense(nu, nu, nil)
		H.Mul(B.T(), &SB)
		H.Add(H, p.R[k])
		addDiag(H, sigmaU, k)

		G := mat.NewDense(nu, nx, nil)
		G.Mul(B.T(), &SA)
		G.Add(G, p.P[k])

		sb := mat.NewVecDense(nx, nil)
		sb.MulVec(S, p.Bias[k])
		sb.AddVec(sb, s)
		g := mat.NewVecDense(nu, nil)
		g.MulVec(B.T(), sb)
		g.AddVec(g, p.Rv[k])

		var chol mat.Cholesky
		if ok := chol.Factorize(symmetric(H)); !ok {
			return nil, nil, &SolveError{Strategy: "riccati", Stage: k, Err: ErrNotPositiveDefinite}
		}
		K[k] = mat.NewDense(nu, nx, nil)
		if err := chol.SolveTo(K[k], G); err != nil {
			return nil, nil, &SolveError{Strategy: "riccati", Stage: k, Err: err}
		}
		K[k].Scale(-1, K[k])
		l[k] = mat.NewVecDense(nu, nil)
		if err := chol.SolveVecTo(l[k], g); err != nil {
			return nil, nil, &SolveError{Strategy: "riccati", Stage: k, Err: err}
		}
		l[k].ScaleVec(-1, l[k])

		// S = Q + AᵀSA + GᵀK,  s = Qv + Aᵀ(s + S b) + Gᵀl
		next := mat.NewDense(nx, nx, nil)
		next.Mul(A.T(), &SA)
		next.Add(next, p.Q[k])
		var GK mat.Dense
		GK.Mul(G.T(), K[k])
		next.Add(next, &GK)
		if k > 0 {
			addDiag(next, sigmaX, k)
		}
		S = mat.DenseCopyOf(symmetric(next))

		sNext := mat.NewVecDense(nx, nil)
		sNext.MulVec(A.T(), sb)
		sNext.AddVec(sNext, p.Qv[k])
		var Gl mat.VecDense
		Gl.MulVec(G.T(), l[k])
		sNext.AddVec(sNext, &Gl)
		s = sNext
	}
	return K, l, nil
}

func addDiag(m *mat.Dense, sigma [][]float64, k int) {
	if sigma == nil || sigma[k] == nil {
		return
	}
	for i, v := range sigma[k] {
		m.Set(i, i, m.At(i, i)+v)
	}
}

func symmetric(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return sym
}
