package main

import (
	"context"
	"fmt"
	"math"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dms"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lqoc"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/viz"
)

type shooting struct {
	cfg    *config.Config
	kind   lqoc.Kind
	shots  *dms.Shots
	w      *dms.DecisionVector
	p      *lqoc.Problem
	solver lqoc.Solver
}

// newShooting sets up the shots and an initial guess that interpolates
// linearly from x0 to x_final.
func newShooting(cfg *config.Config, logger *zap.SugaredLogger) (*shooting, error) {
	model, err := cfg.BuildModel()
	if err != nil {
		return nil, err
	}
	cost, err := cfg.CostFunction()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.DMSSettings()
	if err != nil {
		return nil, err
	}
	shared, err := dms.NewShared(settings, model, nil, cost)
	if err != nil {
		return nil, err
	}
	shots, err := dms.NewShots(shared, dms.WithWorkers(cfg.DMS.Workers), dms.WithLogger(logger.Named("dms")))
	if err != nil {
		return nil, err
	}

	w := shots.NewDecisionVector()
	if err := w.InitLinear(dynamo.State(cfg.X0), dynamo.State(cfg.XFinal), dynamo.Control(cfg.U0)); err != nil {
		return nil, err
	}

	p, err := lqoc.NewProblem(settings.N, model.StateDim(), model.ControlDim())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyBounds(p); err != nil {
		return nil, err
	}
	kind, err := cfg.SolverKind()
	if err != nil {
		return nil, err
	}
	solver, err := lqoc.New(kind, append(cfg.SolverOptions(), lqoc.WithLogger(logger.Named(kind.String())))...)
	if err != nil {
		return nil, err
	}
	return &shooting{cfg: cfg, kind: kind, shots: shots, w: w, p: p, solver: solver}, nil
}

func (s *shooting) step(ctx context.Context) (dms.StepResult, error) {
	return s.shots.Step(ctx, s.w, s.solver, s.p)
}

func (s *shooting) converged(res dms.StepResult) bool {
	return res.MaxDefect < tolerance && res.StepNorm < tolerance
}

func (s *shooting) shotLength() float64 {
	settings := s.shots.Shared().Settings
	return settings.T / float64(settings.N)
}

func (s *shooting) plan() ([]dynamo.State, []dynamo.Control) {
	N := s.shots.Len()
	x := make([]dynamo.State, N+1)
	u := make([]dynamo.Control, N)
	for i := range x {
		x[i] = s.w.OptimizedState(i).Clone()
	}
	for i := range u {
		u[i] = s.w.OptimizedControl(i).Clone()
	}
	return x, u
}

func (s *shooting) save(final float64, iters int) (string, error) {
	x, u := s.plan()
	var K []*mat.Dense
	if iters > 0 {
		gains, err := dms.Feedback(s.solver, s.shots.Len(), len(x[0]), len(u[0]))
		if err != nil {
			return "", err
		}
		K = gains
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return "", err
	}
	return st.Save(storage.RunMetadata{
		Kind:    "dms",
		Model:   s.cfg.Model,
		Solver:  s.kind.String(),
		Horizon: s.shots.Len(),
		Dt:      s.shotLength(),
		Metrics: map[string]float64{"cost": final, "max_defect": s.shots.MaxDefect(s.w), "iterations": float64(iters)},
	}, storage.Plan(x, u, s.shotLength()), K)
}

func runDMS(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := newShooting(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	settings := s.shots.Shared().Settings
	fmt.Printf("multiple shooting on %s: %d shots over %gs, %s, %s\n\n",
		cfg.Model, settings.N, settings.T, settings.Integration, s.kind)

	start := time.Now()
	var rows [][]string
	iters := 0
	for iters < cfg.DMS.Iterations {
		res, err := s.step(ctx)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iters, err)
		}
		iters++
		rows = append(rows, []string{
			fmt.Sprint(iters),
			fmt.Sprintf("%.6g", res.Cost),
			fmt.Sprintf("%.3e", res.MaxDefect),
			fmt.Sprintf("%.3e", res.StepNorm),
		})
		if s.converged(res) {
			break
		}
	}
	final, err := s.shots.TotalCost(ctx, s.w)
	if err != nil {
		return err
	}

	fmt.Println(viz.Table([]string{"ITER", "COST", "MAX DEFECT", "STEP"}, rows))
	fmt.Printf("completed in %v\n", time.Since(start))
	fmt.Println(viz.KeyValue("cost", final))
	fmt.Println(viz.KeyValue("max defect", s.shots.MaxDefect(s.w)))

	x, u := s.plan()
	fmt.Println()
	fmt.Print(viz.Trajectory(x, u, 60, 8))

	if noSave {
		return nil
	}
	runID, err := s.save(final, iters)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := newShooting(cfg, logger)
	if err != nil {
		return err
	}
	iter := 0
	step := func(ctx context.Context) (viz.Progress, error) {
		res, err := s.step(ctx)
		if err != nil {
			return viz.Progress{}, err
		}
		iter++
		return viz.Progress{
			Iteration: iter,
			Cost:      res.Cost,
			Defect:    res.MaxDefect,
			Step:      res.StepNorm,
			Done:      s.converged(res),
		}, nil
	}

	m := viz.NewWatch(cmd.Context(), "dms "+cfg.Model, cfg.DMS.Iterations, 200*time.Millisecond, step).
		WithTheme(viz.GetTheme(themeName))
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	if err := final.(viz.WatchModel).Err(); err != nil {
		return err
	}
	if noSave || iter == 0 {
		return nil
	}
	cost, err := s.shots.TotalCost(cmd.Context(), s.w)
	if err != nil {
		return err
	}
	runID, err := s.save(cost, iter)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func runShots(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := newShooting(cfg, logger)
	if err != nil {
		return err
	}
	if err := s.shots.Integrate(cmd.Context(), s.w, dms.TierCost); err != nil {
		return err
	}

	defects := s.shots.Defects(s.w)
	rows := make([][]string, s.shots.Len())
	for i := range rows {
		c := s.shots.Container(i)
		rows[i] = []string{
			fmt.Sprint(i),
			fmt.Sprint(c.Steps()),
			fmt.Sprintf("%.4f", []float64(c.StateIntegrated())),
			fmt.Sprintf("%.3e", floats.Norm(defects[i], math.Inf(1))),
			fmt.Sprintf("%.6g", c.CostIntegrated()),
		}
	}
	fmt.Printf("initial guess for %s\n\n", cfg.Model)
	fmt.Println(viz.Table([]string{"SHOT", "STEPS", "END STATE", "DEFECT", "COST"}, rows))
	return nil
}
