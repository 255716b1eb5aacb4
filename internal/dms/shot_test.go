package dms

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.N = 4
	s.T = 1
	s.DtSim = 0.05
	return s
}

func newShared(t *testing.T, model string, mutate func(*Settings)) *Shared {
	t.Helper()
	sys, err := physics.GetModel(model)
	if err != nil {
		t.Fatal(err)
	}
	s := testSettings()
	if mutate != nil {
		mutate(&s)
	}
	nx, nu := sys.StateDim(), sys.ControlDim()
	q, r, qf := make([]float64, nx), make([]float64, nu), make([]float64, nx)
	for i := range q {
		q[i], qf[i] = 1, 10
	}
	for i := range r {
		r[i] = 0.01
	}
	cost, err := costfunction.NewDiagonal(q, r, qf, make(dynamo.State, nx))
	if err != nil {
		t.Fatal(err)
	}
	shared, err := NewShared(s, sys, nil, cost)
	if err != nil {
		t.Fatalf("shared: %v", err)
	}
	return shared
}

func newVector(shared *Shared) *DecisionVector {
	w := NewDecisionVector(shared.Settings.N, 2, 1)
	_ = w.InitLinear(dynamo.State{0.5, 0}, dynamo.State{0, 0}, dynamo.Control{0.2})
	for i := 0; i <= shared.Settings.N; i++ {
		_ = w.SetControl(i, dynamo.Control{0.1 * float64(i)})
	}
	return w
}

func newContainer(t *testing.T, shared *Shared, shot int) *ShotContainer {
	t.Helper()
	c, err := NewShotContainer(shared, shot)
	if err != nil {
		t.Fatalf("container %d: %v", shot, err)
	}
	return c
}

type snapshot struct {
	xEnd        dynamo.State
	cost        float64
	sx, sq, sqp *mat.Dense
	lx, lq, lqp *mat.VecDense
}

func snap(c *ShotContainer) snapshot {
	return snapshot{
		xEnd: c.StateIntegrated().Clone(),
		cost: c.CostIntegrated(),
		sx:   mat.DenseCopyOf(c.DXdSi()),
		sq:   mat.DenseCopyOf(c.DXdQi()),
		sqp:  mat.DenseCopyOf(c.DXdQip1()),
		lx:   mat.VecDenseCopyOf(c.DLdSi()),
		lq:   mat.VecDenseCopyOf(c.DLdQi()),
		lqp:  mat.VecDenseCopyOf(c.DLdQip1()),
	}
}

func (a snapshot) equal(b snapshot) bool {
	return floats.Equal(a.xEnd, b.xEnd) &&
		a.cost == b.cost &&
		mat.Equal(a.sx, b.sx) && mat.Equal(a.sq, b.sq) && mat.Equal(a.sqp, b.sqp) &&
		mat.Equal(a.lx, b.lx) && mat.Equal(a.lq, b.lq) && mat.Equal(a.lqp, b.lqp)
}

func TestSettingsValidate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	err := Settings{N: 0, T: -1, DtSim: 0, Integration: RK5}.Validate()
	if got := len(multierr.Errors(err)); got != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", got, err)
	}
	if !errors.Is(err, ErrSettings) || !errors.Is(err, ErrAdaptiveIntegration) {
		t.Errorf("unexpected error chain: %v", err)
	}
}

func TestParseIntegration(t *testing.T) {
	tests := []struct {
		in   string
		want Integration
		err  error
	}{
		{"euler", Euler, nil},
		{"rk4", RK4, nil},
		{"rk45", RK5, nil},
		{"midpoint", 0, ErrUnsupportedIntegration},
	}
	for _, tt := range tests {
		got, err := ParseIntegration(tt.in)
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: err = %v, want %v", tt.in, err, tt.err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := RK5.Tableau(); !errors.Is(err, ErrAdaptiveIntegration) {
		t.Errorf("rk5 tableau: %v", err)
	}
}

func TestNewShotContainerErrors(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	for _, shot := range []int{-1, 4} {
		if _, err := NewShotContainer(shared, shot); !errors.Is(err, ErrShotIndex) {
			t.Errorf("shot %d: expected ErrShotIndex, got %v", shot, err)
		}
	}

	coarse := newShared(t, "pendulum", func(s *Settings) { s.DtSim = 1 })
	if _, err := NewShotContainer(coarse, 0); !errors.Is(err, ErrStepSize) {
		t.Errorf("expected ErrStepSize, got %v", err)
	}

	adaptive := *shared
	adaptive.Settings.Integration = RK5
	if _, err := NewShotContainer(&adaptive, 0); !errors.Is(err, ErrAdaptiveIntegration) {
		t.Errorf("expected ErrAdaptiveIntegration, got %v", err)
	}

	if _, err := NewShared(Settings{N: 2, T: 1, DtSim: 0.1, Integration: RK5}, physics.NewPendulum(), nil, nil); !errors.Is(err, ErrAdaptiveIntegration) {
		t.Errorf("shared: expected ErrAdaptiveIntegration, got %v", err)
	}
}

func TestStepCountRounding(t *testing.T) {
	shared := newShared(t, "pendulum", func(s *Settings) {
		s.N = 3
		s.DtSim = 0.1
	})
	w := newVector(shared)
	c := newContainer(t, shared, 1)
	c.IntegrateShot(w)

	if c.Steps() != 3 {
		t.Fatalf("expected 3 steps, got %d", c.Steps())
	}
	if len(c.XHistory()) != 4 || len(c.THistory()) != 4 {
		t.Errorf("expected 4 samples, got %d/%d", len(c.XHistory()), len(c.THistory()))
	}
	if math.Abs(c.IntegrationTimeFinal()-(1.0/3+0.3)) > 1e-12 {
		t.Errorf("final time %g", c.IntegrationTimeFinal())
	}
}

func TestSingleStepShotSeeds(t *testing.T) {
	shared := newShared(t, "pendulum", func(s *Settings) {
		s.N = 10
		s.DtSim = 0.1
		s.Integration = Euler
	})
	w := newVector(shared)
	c := newContainer(t, shared, 2)
	if err := c.IntegrateSensitivities(w); err != nil {
		t.Fatal(err)
	}
	if c.Steps() != 1 || len(c.XHistory()) != 2 {
		t.Fatalf("expected one step, got %d steps %d samples", c.Steps(), len(c.XHistory()))
	}

	A, B := shared.Linear.Derivatives(w.OptimizedState(2), w.OptimizedControl(2), c.THistory()[0])
	want := mat.NewDense(2, 2, nil)
	want.Scale(0.1, A)
	want.Add(want, eye(2))
	if !mat.EqualApprox(c.DXdSi(), want, 1e-12) {
		t.Errorf("dX/ds = %v, want %v", mat.Formatted(c.DXdSi()), mat.Formatted(want))
	}
	var wantB mat.Dense
	wantB.Scale(0.1, B)
	if !mat.EqualApprox(c.DXdQi(), &wantB, 1e-12) {
		t.Errorf("dX/dq = %v, want %v", mat.Formatted(c.DXdQi()), mat.Formatted(&wantB))
	}
	if mat.Norm(c.DXdQip1(), 1) != 0 {
		t.Errorf("piecewise constant end sensitivity should be zero")
	}
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestTierIdempotence(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	w := newVector(shared)
	c := newContainer(t, shared, 1)

	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	before := snap(c)

	c.IntegrateShot(w)
	for _, tier := range []Tier{TierCost, TierSensitivities, TierCostSensitivities} {
		if err := c.Integrate(w, tier); err != nil {
			t.Fatal(err)
		}
	}
	for tier := TierState; tier < numTiers; tier++ {
		if n := c.Recomputations(tier); n != 1 {
			t.Errorf("tier %v recomputed %d times", tier, n)
		}
	}
	if !before.equal(snap(c)) {
		t.Error("outputs changed without a decision vector update")
	}
}

func TestInvalidation(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	w := newVector(shared)
	c := newContainer(t, shared, 0)
	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	before := snap(c)

	// Touching another shot still bumps the version.
	if err := w.SetControl(3, w.OptimizedControl(3).Clone()); err != nil {
		t.Fatal(err)
	}
	if err := c.IntegrateCost(w); err != nil {
		t.Fatal(err)
	}
	counts := []int{2, 2, 1, 1}
	for tier, want := range counts {
		if got := c.Recomputations(Tier(tier)); got != want {
			t.Errorf("after cost: tier %v recomputed %d, want %d", Tier(tier), got, want)
		}
	}

	if err := c.IntegrateCostSensitivities(w); err != nil {
		t.Fatal(err)
	}
	if c.Recomputations(TierSensitivities) != 2 || c.Recomputations(TierCostSensitivities) != 2 {
		t.Error("sensitivity tiers were not recomputed")
	}
	if !before.equal(snap(c)) {
		t.Error("recomputation with unchanged shot data should reproduce outputs")
	}

	if err := w.SetState(0, dynamo.State{0.2, 0.1}); err != nil {
		t.Fatal(err)
	}
	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	if before.equal(snap(c)) {
		t.Error("outputs did not follow the new initial state")
	}
}

func TestOtherInstanceIsStale(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	w := newVector(shared)
	c := newContainer(t, shared, 0)
	c.IntegrateShot(w)

	clone := w.Clone()
	c.IntegrateShot(clone)
	if c.Recomputations(TierState) != 2 {
		t.Errorf("a different decision vector must invalidate the cache")
	}
}

func TestDependencyOrdering(t *testing.T) {
	shared := newShared(t, "pendulum", func(s *Settings) { s.Spline = PiecewiseLinear })
	w := newVector(shared)

	direct := newContainer(t, shared, 2)
	if err := direct.IntegrateCostSensitivities(w); err != nil {
		t.Fatal(err)
	}
	if direct.Recomputations(TierState) != 1 || direct.Recomputations(TierSensitivities) != 1 {
		t.Error("prerequisite tiers were not computed")
	}
	if err := direct.IntegrateCost(w); err != nil {
		t.Fatal(err)
	}

	stepwise := newContainer(t, shared, 2)
	stepwise.IntegrateShot(w)
	if err := stepwise.IntegrateCost(w); err != nil {
		t.Fatal(err)
	}
	if err := stepwise.IntegrateSensitivities(w); err != nil {
		t.Fatal(err)
	}
	if err := stepwise.IntegrateCostSensitivities(w); err != nil {
		t.Fatal(err)
	}

	if !snap(direct).equal(snap(stepwise)) {
		t.Error("call order changed the outputs")
	}
}

func TestReset(t *testing.T) {
	shared := newShared(t, "pendulum", nil)
	w := newVector(shared)
	c := newContainer(t, shared, 1)
	c.Reset()

	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	before := snap(c)
	c.Reset()
	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	if !before.equal(snap(c)) || c.Recomputations(TierState) != 1 {
		t.Error("reset must keep cached outputs")
	}

	// Reset between the sensitivity tiers forces a new linearization.
	if err := w.SetControl(1, w.OptimizedControl(1).Clone()); err != nil {
		t.Fatal(err)
	}
	if err := c.IntegrateSensitivities(w); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if err := c.IntegrateCostSensitivities(w); err != nil {
		t.Fatalf("cost sensitivities after reset: %v", err)
	}
	if err := c.IntegrateCost(w); err != nil {
		t.Fatal(err)
	}
	if !before.equal(snap(c)) {
		t.Error("outputs after reset differ from a clean computation")
	}
}

func endState(t *testing.T, shared *Shared, w *DecisionVector, shot int) (dynamo.State, float64) {
	t.Helper()
	c := newContainer(t, shared, shot)
	if err := c.IntegrateCost(w); err != nil {
		t.Fatal(err)
	}
	return c.StateIntegrated().Clone(), c.CostIntegrated()
}

func perturbControl(w *DecisionVector, i int, h float64) *DecisionVector {
	p := w.Clone()
	u := p.OptimizedControl(i).Clone()
	u[0] += h
	_ = p.SetControl(i, u)
	return p
}

func TestPiecewiseLinearEndSensitivity(t *testing.T) {
	shared := newShared(t, "pendulum", func(s *Settings) { s.Spline = PiecewiseLinear })
	w := newVector(shared)
	const shot, h = 1, 1e-6

	c := newContainer(t, shared, shot)
	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		q    int
		sx   *mat.Dense
		lx   *mat.VecDense
	}{
		{"start", shot, c.DXdQi(), c.DLdQi()},
		{"end", shot + 1, c.DXdQip1(), c.DLdQip1()},
	} {
		xp, jp := endState(t, shared, perturbControl(w, tc.q, h), shot)
		xm, jm := endState(t, shared, perturbControl(w, tc.q, -h), shot)
		for d := range xp {
			fd := (xp[d] - xm[d]) / (2 * h)
			if math.Abs(fd-tc.sx.At(d, 0)) > 1e-6 {
				t.Errorf("%s: dX[%d]/dq = %g, finite difference %g", tc.name, d, tc.sx.At(d, 0), fd)
			}
		}
		fd := (jp - jm) / (2 * h)
		if math.Abs(fd-tc.lx.AtVec(0)) > 1e-6 {
			t.Errorf("%s: dL/dq = %g, finite difference %g", tc.name, tc.lx.AtVec(0), fd)
		}
	}
	if mat.Norm(c.DXdQip1(), 1) == 0 {
		t.Error("end sensitivity should be active for a linear spline")
	}
}

func TestCostNone(t *testing.T) {
	s := testSettings()
	s.CostEvaluation = CostNone
	shared, err := NewShared(s, physics.NewPendulum(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w := newVector(shared)
	c := newContainer(t, shared, 0)
	if err := c.Integrate(w, TierCostSensitivities); err != nil {
		t.Fatal(err)
	}
	if c.CostIntegrated() != 0 || mat.Norm(c.DLdSi(), 2) != 0 || mat.Norm(c.DLdQi(), 2) != 0 {
		t.Error("cost tiers should be zero when evaluation is disabled")
	}
	if mat.Norm(c.DXdSi(), 1) == 0 {
		t.Error("state sensitivities must still be computed")
	}

	s.CostEvaluation = CostFull
	if _, err := NewShared(s, physics.NewPendulum(), nil, nil); !errors.Is(err, ErrSettings) {
		t.Errorf("full cost without cost function: %v", err)
	}
}

func TestUHistory(t *testing.T) {
	shared := newShared(t, "pendulum", func(s *Settings) { s.Spline = PiecewiseLinear })
	w := newVector(shared)
	c := newContainer(t, shared, 2)
	c.IntegrateShot(w)

	u := c.UHistory(w)
	if len(u) != len(c.THistory()) {
		t.Fatalf("got %d controls for %d samples", len(u), len(c.THistory()))
	}
	if u[0][0] != w.OptimizedControl(2)[0] {
		t.Errorf("first control %g, want q_2 = %g", u[0][0], w.OptimizedControl(2)[0])
	}
	if math.Abs(u[len(u)-1][0]-w.OptimizedControl(3)[0]) > 1e-9 {
		t.Errorf("last control %g, want q_3 = %g", u[len(u)-1][0], w.OptimizedControl(3)[0])
	}
}
