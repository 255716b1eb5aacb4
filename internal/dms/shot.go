package dms

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/sensitivity"
)

// Shared is the per-problem configuration every container of a problem
// points to. It is never modified after NewShared.
type Shared struct {
	Settings Settings
	Grid     TimeGrid
	Spliner  ControlSpliner
	System   dynamo.System
	Linear   dynamo.LinearSystem
	Cost     costfunction.Function
}

// NewShared validates settings and builds the uniform grid and spliner. When
// lin is nil, sys must itself implement dynamo.LinearSystem.
func NewShared(settings Settings, sys dynamo.System, lin dynamo.LinearSystem, cost costfunction.Function) (*Shared, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if lin == nil {
		l, ok := sys.(dynamo.LinearSystem)
		if !ok {
			return nil, fmt.Errorf("system has no linearization: %w", ErrSettings)
		}
		lin = l
	}
	if cost == nil && settings.CostEvaluation == CostFull {
		return nil, fmt.Errorf("full cost evaluation without a cost function: %w", ErrSettings)
	}
	grid := UniformGrid{N: settings.N, T: settings.T}
	spliner, err := NewSpliner(settings.Spline, grid)
	if err != nil {
		return nil, err
	}
	return &Shared{
		Settings: settings,
		Grid:     grid,
		Spliner:  spliner,
		System:   sys,
		Linear:   lin,
		Cost:     cost,
	}, nil
}

// Tier names one level of the container cache. Each tier depends on the
// ones before it.
type Tier int

const (
	TierState Tier = iota
	TierCost
	TierSensitivities
	TierCostSensitivities
	numTiers
)

func (t Tier) String() string {
	switch t {
	case TierState:
		return "state"
	case TierCost:
		return "cost"
	case TierSensitivities:
		return "sensitivities"
	case TierCostSensitivities:
		return "cost_sensitivities"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// stamp is the decision vector version a cached value was computed at.
// The zero stamp is never current.
type stamp struct {
	v  Version
	ok bool
}

func (s stamp) current(w *DecisionVector) bool {
	return s.ok && s.v == w.Version()
}

// ShotContainer integrates one shot and caches the state trajectory, the
// running cost and their sensitivities to s_i, q_i and q_i+1. Each cached
// tier is recomputed only when the decision vector version differs from the
// one it was computed at. A container must be used by one goroutine at a time.
type ShotContainer struct {
	shared *Shared
	shot   int
	integ  *sensitivity.Integrator

	tStart float64
	dt     float64
	nSteps int

	fresh      [numTiers]stamp
	linearized stamp
	recomputes [numTiers]int

	xHistory []dynamo.State
	tHistory []float64

	cost float64

	dXdSi   *mat.Dense
	dXdQi   *mat.Dense
	dXdQip1 *mat.Dense

	dLdSi   *mat.VecDense
	dLdQi   *mat.VecDense
	dLdQip1 *mat.VecDense
}

func NewShotContainer(shared *Shared, shot int) (*ShotContainer, error) {
	s := shared.Settings
	if shot < 0 || shot >= s.N {
		return nil, fmt.Errorf("shot %d of %d: %w", shot, s.N, ErrShotIndex)
	}
	tab, err := s.Integration.Tableau()
	if err != nil {
		return nil, err
	}

	tStart := shared.Grid.ShotStartTime(shot)
	tEnd := shared.Grid.ShotEndTime(shot)
	nSteps := int((tEnd-tStart)/s.DtSim + 0.5)
	if nSteps < 1 {
		return nil, fmt.Errorf("shot %d lasts %gs with dt %g: %w", shot, tEnd-tStart, s.DtSim, ErrStepSize)
	}

	integ, err := sensitivity.New(shared.System, tab)
	if err != nil {
		return nil, err
	}
	integ.SetLinearSystem(shared.Linear)
	if shared.Cost != nil {
		integ.SetCostFunction(shared.Cost)
	}

	nx, nu := shared.System.StateDim(), shared.System.ControlDim()
	return &ShotContainer{
		shared:  shared,
		shot:    shot,
		integ:   integ,
		tStart:  tStart,
		dt:      s.DtSim,
		nSteps:  nSteps,
		dXdSi:   mat.NewDense(nx, nx, nil),
		dXdQi:   mat.NewDense(nx, nu, nil),
		dXdQip1: mat.NewDense(nx, nu, nil),
		dLdSi:   mat.NewVecDense(nx, nil),
		dLdQi:   mat.NewVecDense(nu, nil),
		dLdQip1: mat.NewVecDense(nu, nil),
	}, nil
}

func (c *ShotContainer) Shot() int  { return c.shot }
func (c *ShotContainer) Steps() int { return c.nSteps }

// Recomputations counts how often tier has actually been recomputed.
func (c *ShotContainer) Recomputations(tier Tier) int {
	return c.recomputes[tier]
}

func (c *ShotContainer) input(w *DecisionVector) sensitivity.Input {
	return shotInput{spliner: c.shared.Spliner, w: w, shot: c.shot}
}

func (c *ShotContainer) mark(tier Tier, w *DecisionVector) {
	c.fresh[tier] = stamp{v: w.Version(), ok: true}
	c.recomputes[tier]++
}

func (c *ShotContainer) endControlActive() bool {
	return c.shared.Spliner.Type() == PiecewiseLinear
}

func (c *ShotContainer) costActive() bool {
	return c.shared.Settings.CostEvaluation == CostFull
}

// Integrate brings tier and everything it depends on up to date.
func (c *ShotContainer) Integrate(w *DecisionVector, tier Tier) error {
	switch tier {
	case TierState:
		c.IntegrateShot(w)
		return nil
	case TierCost:
		return c.IntegrateCost(w)
	case TierSensitivities:
		return c.IntegrateSensitivities(w)
	case TierCostSensitivities:
		if err := c.IntegrateCost(w); err != nil {
			return err
		}
		return c.IntegrateCostSensitivities(w)
	}
	return fmt.Errorf("unknown tier %v", tier)
}

// IntegrateShot integrates the dynamics from s_i over the shot.
func (c *ShotContainer) IntegrateShot(w *DecisionVector) {
	if c.fresh[TierState].current(w) {
		return
	}
	c.xHistory, c.tHistory = c.integ.Integrate(w.OptimizedState(c.shot), c.input(w), c.tStart, c.nSteps, c.dt)
	c.mark(TierState, w)
}

// IntegrateCost integrates the running cost along the state trajectory.
func (c *ShotContainer) IntegrateCost(w *DecisionVector) error {
	c.IntegrateShot(w)
	if c.fresh[TierCost].current(w) {
		return nil
	}
	c.cost = 0
	if c.costActive() {
		cost, err := c.integ.Cost(c.xHistory, c.tHistory, c.input(w), c.dt)
		if err != nil {
			return err
		}
		c.cost = cost
	}
	c.mark(TierCost, w)
	return nil
}

func (c *ShotContainer) linearize(w *DecisionVector) error {
	if c.linearized.current(w) {
		return nil
	}
	if err := c.integ.Linearize(c.xHistory, c.tHistory, c.input(w), c.dt); err != nil {
		return err
	}
	c.linearized = stamp{v: w.Version(), ok: true}
	return nil
}

// IntegrateSensitivities propagates d x_end / d(s_i, q_i, q_i+1). The
// end-control sensitivity is only integrated for piecewise-linear splines.
func (c *ShotContainer) IntegrateSensitivities(w *DecisionVector) error {
	c.IntegrateShot(w)
	if c.fresh[TierSensitivities].current(w) {
		return nil
	}

	nx, _ := c.dXdSi.Dims()
	c.dXdSi.Zero()
	for i := 0; i < nx; i++ {
		c.dXdSi.Set(i, i, 1)
	}
	c.dXdQi.Zero()
	c.dXdQip1.Zero()

	if err := c.linearize(w); err != nil {
		return err
	}
	if err := c.integ.SensitivityDX0(c.dXdSi, c.dt); err != nil {
		return err
	}
	if err := c.integ.SensitivityDU0(c.dXdQi, c.dt); err != nil {
		return err
	}
	if c.endControlActive() {
		if err := c.integ.SensitivityDUf(c.dXdQip1, c.dt); err != nil {
			return err
		}
	}
	c.mark(TierSensitivities, w)
	return nil
}

// IntegrateCostSensitivities integrates the running cost gradient with
// respect to the same variables as IntegrateSensitivities.
func (c *ShotContainer) IntegrateCostSensitivities(w *DecisionVector) error {
	if err := c.IntegrateSensitivities(w); err != nil {
		return err
	}
	if c.fresh[TierCostSensitivities].current(w) {
		return nil
	}

	c.dLdSi.Zero()
	c.dLdQi.Zero()
	c.dLdQip1.Zero()
	if c.costActive() {
		if err := c.linearize(w); err != nil {
			return err
		}
		if err := c.integ.CostSensitivityDX0(c.dLdSi, c.dt); err != nil {
			return err
		}
		if err := c.integ.CostSensitivityDU0(c.dLdQi, c.dt); err != nil {
			return err
		}
		if c.endControlActive() {
			if err := c.integ.CostSensitivityDUf(c.dLdQip1, c.dt); err != nil {
				return err
			}
		}
	}
	c.mark(TierCostSensitivities, w)
	return nil
}

// Reset drops the integrator's internal trajectory, sensitivity and
// linearization buffers. Cached outputs and their stamps are kept; change
// the decision vector to force recomputation.
func (c *ShotContainer) Reset() {
	c.integ.ClearStates()
	c.integ.ClearSensitivities()
	c.integ.ClearLinearization()
	c.linearized = stamp{}
}

// Accessors return cached values as of the last computation of their tier.
// Returned matrices and slices must not be modified.

func (c *ShotContainer) StateIntegrated() dynamo.State {
	if len(c.xHistory) == 0 {
		return nil
	}
	return c.xHistory[len(c.xHistory)-1]
}

func (c *ShotContainer) IntegrationTimeFinal() float64 {
	if len(c.tHistory) == 0 {
		return c.tStart
	}
	return c.tHistory[len(c.tHistory)-1]
}

func (c *ShotContainer) DXdSi() *mat.Dense   { return c.dXdSi }
func (c *ShotContainer) DXdQi() *mat.Dense   { return c.dXdQi }
func (c *ShotContainer) DXdQip1() *mat.Dense { return c.dXdQip1 }

func (c *ShotContainer) CostIntegrated() float64 { return c.cost }

func (c *ShotContainer) DLdSi() *mat.VecDense   { return c.dLdSi }
func (c *ShotContainer) DLdQi() *mat.VecDense   { return c.dLdQi }
func (c *ShotContainer) DLdQip1() *mat.VecDense { return c.dLdQip1 }

func (c *ShotContainer) XHistory() []dynamo.State { return c.xHistory }
func (c *ShotContainer) THistory() []float64      { return c.tHistory }

// UHistory evaluates the spline at every cached time stamp. It is not cached.
func (c *ShotContainer) UHistory(w *DecisionVector) []dynamo.Control {
	u := make([]dynamo.Control, len(c.tHistory))
	for i, t := range c.tHistory {
		u[i] = c.shared.Spliner.Evaluate(w, t, c.shot)
	}
	return u
}
