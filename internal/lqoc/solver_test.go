package lqoc

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
	"github.com/san-kum/dynopt/internal/qp"
)

func solve(s Solver, p *Problem) ([]dynamo.State, []dynamo.Control, []*mat.Dense) {
	s.SetProblem(p)
	Expect(s.Solve()).To(Succeed())
	x, err := s.SolutionState()
	Expect(err).NotTo(HaveOccurred())
	u, err := s.SolutionControl()
	Expect(err).NotTo(HaveOccurred())
	K := make([]*mat.Dense, p.N())
	Expect(s.Feedback(K)).To(Succeed())
	return x, u, K
}

func maxControl(u []dynamo.Control) float64 {
	best := u[0][0]
	for _, uk := range u {
		best = max(best, uk[0])
	}
	return best
}

var _ = Describe("Solver", func() {
	var (
		riccati Solver
		ip      Solver
	)

	BeforeEach(func() {
		riccati = NewRiccatiSolver()
		ip = NewInteriorPointSolver()
	})

	Describe("an unconstrained double integrator", func() {
		var (
			p   *Problem
			sys *physics.DiscreteLinearSystem
		)

		BeforeEach(func() {
			p, sys = newBenchmarkProblem(physics.NewDoubleIntegrator())
		})

		It("produces trajectories of the right length", func() {
			x, u, K := solve(riccati, p)
			Expect(x).To(HaveLen(horizon + 1))
			Expect(u).To(HaveLen(horizon))
			Expect(K).To(HaveLen(horizon))
			Expect(x[0]).To(Equal(dynamo.State{2.5, 0}))
		})

		It("satisfies the discrete dynamics", func() {
			x, u, _ := solve(riccati, p)
			for k := 0; k < horizon; k++ {
				next := sys.Propagate(x[k], u[k])
				for i := range next {
					Expect(x[k+1][i]).To(BeNumerically("~", next[i], 1e-10))
				}
			}
		})

		It("gives the same answer with both strategies", func() {
			xr, ur, Kr := solve(riccati, p)
			xi, ui, Ki := solve(ip, p)
			for k := range xr {
				for i := range xr[k] {
					Expect(xi[k][i]).To(BeNumerically("~", xr[k][i], 1e-6))
				}
			}
			for k := range ur {
				Expect(ui[k][0]).To(BeNumerically("~", ur[k][0], 1e-6))
				Expect(mat.EqualApprox(Ki[k], Kr[k], 1e-6)).To(BeTrue())
			}
		})

		It("drives the state towards the origin", func() {
			x, _, _ := solve(riccati, p)
			Expect(x[horizon].Norm()).To(BeNumerically("<", x[0].Norm()))
		})

		It("is a minimum of the quadratic objective", func() {
			x, u, _ := solve(riccati, p)
			dx, du := Deviations(p, x, u)
			best := p.Objective(dx, du)

			du[2].SetVec(0, du[2].AtVec(0)+0.1)
			for k := 3; k <= horizon; k++ {
				var ax, bu mat.VecDense
				ax.MulVec(p.A[k-1], dx[k-1])
				bu.MulVec(p.B[k-1], du[k-1])
				dx[k].AddVec(&ax, &bu)
				dx[k].AddVec(dx[k], p.Bias[k-1])
			}
			Expect(p.Objective(dx, du)).To(BeNumerically(">", best))
		})
	})

	Describe("an oscillator with control bounds", func() {
		var p *Problem

		BeforeEach(func() {
			p, _ = newBenchmarkProblem(physics.NewLinearOscillator())
			Expect(p.SetControlBoxConstraints([]float64{-0.5}, []float64{0.5})).To(Succeed())
		})

		It("keeps every control inside the box", func() {
			_, u, _ := solve(ip, p)
			for k := range u {
				Expect(u[k][0]).To(BeNumerically(">=", -0.5-1e-6))
				Expect(u[k][0]).To(BeNumerically("<=", 0.5+1e-6))
			}
		})

		It("hits the bound the unconstrained solution violates", func() {
			free, _ := newBenchmarkProblem(physics.NewLinearOscillator())
			_, uFree, _ := solve(riccati, free)
			Expect(maxControl(uFree)).To(BeNumerically(">", 0.5))

			_, u, _ := solve(ip, p)
			Expect(maxControl(u)).To(BeNumerically("~", 0.5, 1e-4))
		})

		It("is rejected by the Riccati strategy", func() {
			riccati.SetProblem(p)
			err := riccati.Solve()
			Expect(err).To(MatchError(ErrConstraintsUnsupported))
			_, err = riccati.SolutionState()
			Expect(err).To(MatchError(ErrNotSolved))
		})
	})

	Describe("an oscillator with a fixed control", func() {
		It("solves with every control pinned to the bound", func() {
			p, sys := newBenchmarkProblem(physics.NewLinearOscillator())
			Expect(p.SetControlBoxConstraints([]float64{-0.2}, []float64{-0.2})).To(Succeed())

			x, u, K := solve(ip, p)
			for k := range u {
				Expect(u[k][0]).To(BeNumerically("~", -0.2, 1e-12))
				next := sys.Propagate(x[k], u[k])
				for i := range next {
					Expect(x[k+1][i]).To(BeNumerically("~", next[i], 1e-6))
				}
				Expect(mat.Norm(K[k], math.Inf(1))).To(BeNumerically("<", 1e-6))
			}
		})
	})

	Describe("an oscillator with state bounds", func() {
		It("keeps the position above its lower bound", func() {
			p, _ := newBenchmarkProblem(physics.NewLinearOscillator())
			Expect(p.SetStateBoxConstraints([]float64{1.7, -20}, []float64{20, 20})).To(Succeed())

			x, _, _ := solve(ip, p)
			for k := 1; k < len(x); k++ {
				Expect(x[k][0]).To(BeNumerically(">=", 1.7-1e-6))
				Expect(x[k][1]).To(BeNumerically("<=", 20+1e-6))
			}
		})

		It("treats huge bounds as absent", func() {
			p, _ := newBenchmarkProblem(physics.NewLinearOscillator())
			Expect(p.SetStateBoxConstraints([]float64{-1e20, -1e20}, []float64{1e20, 1e20})).To(Succeed())
			free, _ := newBenchmarkProblem(physics.NewLinearOscillator())

			x, _, _ := solve(ip, p)
			xr, _, _ := solve(riccati, free)
			for k := range x {
				Expect(x[k][0]).To(BeNumerically("~", xr[k][0], 1e-6))
			}
		})

		It("reports an infeasible combination instead of a stale solution", func() {
			p, _ := newBenchmarkProblem(physics.NewLinearOscillator())
			Expect(p.SetStateBoxConstraints([]float64{1.7, -20}, []float64{20, 20})).To(Succeed())
			Expect(p.SetControlBoxConstraints([]float64{-0.5}, []float64{0.5})).To(Succeed())

			ip.SetProblem(p)
			err := ip.Solve()
			Expect(err).To(HaveOccurred())
			var se *SolveError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(errors.Is(err, qp.ErrInfeasible) || errors.Is(err, qp.ErrMaxIterations) || errors.Is(err, qp.ErrSingular)).To(BeTrue())

			_, err = ip.SolutionControl()
			Expect(err).To(MatchError(ErrNotSolved))
		})
	})

	Describe("a problem without curvature", func() {
		It("reports the stage where the control Hessian is singular", func() {
			const N = 3
			p, err := NewProblem(N, 2, 1)
			Expect(err).NotTo(HaveOccurred())

			riccati.SetProblem(p)
			err = riccati.Solve()
			Expect(err).To(MatchError(ErrNotPositiveDefinite))
			var se *SolveError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Strategy).To(Equal("riccati"))
			Expect(se.Stage).To(Equal(N - 1))

			_, err = riccati.SolutionState()
			Expect(err).To(MatchError(ErrNotSolved))
		})
	})

	Describe("usage errors", func() {
		It("refuses to solve without a problem", func() {
			Expect(riccati.Solve()).To(MatchError(ErrNoProblem))
			Expect(ip.Solve()).To(MatchError(ErrNoProblem))
		})

		It("refuses to report before solving", func() {
			_, err := riccati.SolutionState()
			Expect(err).To(MatchError(ErrNotSolved))
			Expect(ip.Feedback(make([]*mat.Dense, horizon))).To(MatchError(ErrNotSolved))
		})

		It("drops the previous solution when a new problem is bound", func() {
			p, _ := newBenchmarkProblem(physics.NewDoubleIntegrator())
			solve(riccati, p)
			riccati.SetProblem(p)
			_, err := riccati.SolutionControl()
			Expect(err).To(MatchError(ErrNotSolved))
		})

		It("checks the feedback container length", func() {
			p, _ := newBenchmarkProblem(physics.NewDoubleIntegrator())
			solve(riccati, p)
			Expect(riccati.Feedback(make([]*mat.Dense, 2))).To(MatchError(ErrDimension))
		})
	})

	DescribeTable("selecting a strategy",
		func(name string, want Kind, ok bool) {
			kind, err := ParseKind(name)
			if !ok {
				Expect(err).To(MatchError(ErrUnknownStrategy))
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(want))
			s, err := New(kind)
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
		},
		Entry("riccati", "riccati", Riccati, true),
		Entry("interior point", "interior_point", InteriorPoint, true),
		Entry("short name", "ip", InteriorPoint, true),
		Entry("unknown", "simplex", Riccati, false),
	)
})
