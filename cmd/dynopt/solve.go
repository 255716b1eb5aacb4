package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/lqoc"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/physics"
	"github.com/san-kum/dynopt/internal/sim"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/viz"
)

// buildProblem linearizes the model at x0, discretizes it with the stage
// length and applies the configured bounds when bounded is set.
func buildProblem(cfg *config.Config, model physics.Model, bounded bool) (*lqoc.Problem, error) {
	cost, err := cfg.CostFunction()
	if err != nil {
		return nil, err
	}
	x0, u0 := dynamo.State(cfg.X0), dynamo.Control(cfg.U0)
	disc, err := physics.NewDiscreteLinearSystem(model, x0, u0, cfg.Dt, physics.MatrixExponential)
	if err != nil {
		return nil, err
	}
	p, err := lqoc.NewProblem(cfg.Horizon, model.StateDim(), model.ControlDim())
	if err != nil {
		return nil, err
	}
	if err := p.SetFromTimeInvariantLinearQuadraticProblem(x0, u0, disc, cost, nil, cfg.Dt); err != nil {
		return nil, err
	}
	if bounded {
		if err := cfg.ApplyBounds(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type planResult struct {
	kind      lqoc.Kind
	feedback  *control.Feedback
	objective float64
	elapsed   time.Duration
}

func solvePlan(kind lqoc.Kind, cfg *config.Config, p *lqoc.Problem, logger *zap.SugaredLogger) (*planResult, error) {
	opts := append(cfg.SolverOptions(), lqoc.WithLogger(logger.Named(kind.String())))
	solver, err := lqoc.New(kind, opts...)
	if err != nil {
		return nil, err
	}
	solver.SetProblem(p)

	start := time.Now()
	if err := solver.Solve(); err != nil {
		if errors.Is(err, lqoc.ErrConstraintsUnsupported) {
			return nil, fmt.Errorf("%w (use --solver interior_point)", err)
		}
		return nil, err
	}
	elapsed := time.Since(start)

	fb, err := control.NewFromSolver(solver, cfg.Dt)
	if err != nil {
		return nil, err
	}
	dx, du := lqoc.Deviations(p, fb.X, fb.U)
	return &planResult{kind: kind, feedback: fb, objective: p.Objective(dx, du), elapsed: elapsed}, nil
}

func maxAbs(u []dynamo.Control) float64 {
	worst := 0.0
	for _, v := range u {
		worst = math.Max(worst, floats.Norm(v, math.Inf(1)))
	}
	return worst
}

func printPlan(x []dynamo.State, u []dynamo.Control) {
	rows := make([][]string, len(x))
	for k := range x {
		uk := "-"
		if k < len(u) {
			uk = fmt.Sprintf("%.4f", []float64(u[k]))
		}
		rows[k] = []string{fmt.Sprint(k), fmt.Sprintf("%.4f", []float64(x[k])), uk}
	}
	fmt.Println(viz.Table([]string{"STAGE", "STATE", "CONTROL"}, rows))
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	model, err := cfg.BuildModel()
	if err != nil {
		return err
	}
	kind, err := cfg.SolverKind()
	if err != nil {
		return err
	}
	p, err := buildProblem(cfg, model, true)
	if err != nil {
		return err
	}

	fmt.Printf("solving %s with %s (N=%d, dt=%g)...\n", cfg.Model, kind, cfg.Horizon, cfg.Dt)
	res, err := solvePlan(kind, cfg, p, logger)
	if err != nil {
		return err
	}
	fb := res.feedback

	fmt.Printf("completed in %v\n\n", res.elapsed)
	printPlan(fb.X, fb.U)
	fmt.Println(viz.KeyValue("objective", res.objective))
	fmt.Println(viz.KeyValue("max |u|", maxAbs(fb.U)))
	fmt.Println(viz.KeyValue("K[0]", fmt.Sprintf("%.4f", fb.K[0].RawMatrix().Data)))
	if plot {
		fmt.Println()
		fmt.Print(viz.Trajectory(fb.X, fb.U, 60, 8))
	}

	st := storage.New(dataDir)
	if !noSave {
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(storage.RunMetadata{
			Kind:    "plan",
			Model:   cfg.Model,
			Solver:  kind.String(),
			Horizon: cfg.Horizon,
			Dt:      cfg.Dt,
			Metrics: map[string]float64{"objective": res.objective, "max_control": maxAbs(fb.U)},
		}, storage.Plan(fb.X, fb.U, cfg.Dt), fb.K)
		if err != nil {
			return err
		}
		fmt.Printf("\nrun id: %s\n", runID)
	}

	if !rollout {
		return nil
	}
	result, err := simulate(cmd.Context(), cfg, model, fb, fb, dynamo.State(cfg.X0), logger)
	if err != nil {
		return err
	}
	return reportRollout(st, cfg, kind.String(), result)
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	model, err := cfg.BuildModel()
	if err != nil {
		return err
	}
	p, err := buildProblem(cfg, model, false)
	if err != nil {
		return err
	}

	kinds := []lqoc.Kind{lqoc.Riccati, lqoc.InteriorPoint}
	results := make([]*planResult, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			res, err := solvePlan(kind, cfg, p, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ref := results[0].feedback
	rows := make([][]string, len(results))
	for i, r := range results {
		diff := 0.0
		for k := range r.feedback.U {
			diff = math.Max(diff, floats.Distance(r.feedback.U[k], ref.U[k], math.Inf(1)))
		}
		rows[i] = []string{
			r.kind.String(),
			fmt.Sprintf("%.6g", r.objective),
			fmt.Sprintf("%.3e", diff),
			r.elapsed.String(),
		}
	}
	fmt.Printf("comparing strategies on %s (N=%d, unconstrained)\n\n", cfg.Model, cfg.Horizon)
	fmt.Println(viz.Table([]string{"STRATEGY", "OBJECTIVE", "MAX |u - u_riccati|", "TIME"}, rows))
	return nil
}

func runLQR(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	model, err := cfg.BuildModel()
	if err != nil {
		return err
	}
	cost, err := cfg.CostFunction()
	if err != nil {
		return err
	}
	lqr, err := control.SteadyStateLQR(model, cost, dynamo.State(cfg.XFinal), dynamo.Control(cfg.U0), cfg.Dt, cfg.Horizon)
	if err != nil {
		return err
	}
	fmt.Println(viz.KeyValue("K", fmt.Sprintf("%.4f", lqr.K.RawMatrix().Data)))

	result, err := simulate(cmd.Context(), cfg, model, lqr, constRef(cfg.XFinal), dynamo.State(cfg.X0), logger)
	if err != nil {
		return err
	}
	st := storage.New(dataDir)
	if !noSave {
		if err := st.Init(); err != nil {
			return err
		}
	}
	return reportRollout(st, cfg, "lqr", result)
}

type constRef dynamo.State

func (r constRef) Reference(t float64) dynamo.State { return dynamo.State(r) }

// newSimulator wires a closed-loop simulator with the rollout metrics.
func newSimulator(cfg *config.Config, model physics.Model, ctrl dynamo.Controller, ref metrics.Reference, logger *zap.SugaredLogger) (*sim.Simulator, error) {
	integ, ok := integrators.New(cfg.Rollout.Integrator)
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", cfg.Rollout.Integrator)
	}
	cost, err := cfg.CostFunction()
	if err != nil {
		return nil, err
	}
	s := sim.New(model, integ, ctrl)
	s.SetLogger(logger)
	s.AddMetric(metrics.NewCost(cost))
	s.AddMetric(metrics.NewControlEffort())
	s.AddMetric(metrics.NewTrackingError(ref))
	s.AddMetric(metrics.NewBoundViolation(cfg.Bounds.XMin, cfg.Bounds.XMax, cfg.Bounds.UMin, cfg.Bounds.UMax))
	return s, nil
}

func simulate(ctx context.Context, cfg *config.Config, model physics.Model, ctrl dynamo.Controller, ref metrics.Reference, x0 dynamo.State, logger *zap.SugaredLogger) (*dynamo.Result, error) {
	s, err := newSimulator(cfg, model, ctrl, ref, logger.Named("sim"))
	if err != nil {
		return nil, err
	}
	fmt.Printf("\nsimulating %s for %gs with %s...\n", cfg.Model, cfg.Rollout.Duration, cfg.Rollout.Integrator)
	return s.Run(ctx, x0, cfg.SimConfig())
}

func reportRollout(st *storage.Store, cfg *config.Config, solver string, result *dynamo.Result) error {
	fmt.Printf("steps: %d\n", result.StepsTaken)
	for _, e := range result.Errors {
		fmt.Printf("warning: %v\n", e)
	}
	fmt.Println("\nmetrics:")
	for _, name := range sortedKeys(result.Metrics) {
		fmt.Println(viz.KeyValue(name, result.Metrics[name]))
	}
	if noSave {
		return nil
	}
	runID, err := st.Save(storage.RunMetadata{
		Kind:    "rollout",
		Model:   cfg.Model,
		Solver:  solver,
		Horizon: cfg.Horizon,
		Dt:      cfg.Rollout.Dt,
		Metrics: result.Metrics,
	}, storage.FromResult(result), nil)
	if err != nil {
		return err
	}
	fmt.Printf("\nrun id: %s\n", runID)
	return nil
}
