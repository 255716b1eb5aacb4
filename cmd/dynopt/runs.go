package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"runtime"
	"slices"

	"github.com/spf13/cobra"

	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/sim"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/viz"
)

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}

func runRollout(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	K, stageDt, err := st.LoadFeedback(args[0])
	if errors.Is(err, storage.ErrNoFeedback) {
		return fmt.Errorf("run %s is a %s, only plans can be rolled out", meta.ID, meta.Kind)
	}
	if err != nil {
		return err
	}
	fb, err := control.NewFeedback(traj.States, traj.Controls, K, stageDt)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(cmd, []string{meta.Model})
	if err != nil {
		return err
	}
	defer logger.Sync()
	model, err := cfg.BuildModel()
	if err != nil {
		return err
	}
	x0 := traj.States[0]

	if ensemble <= 0 {
		result, err := simulate(cmd.Context(), cfg, model, fb, fb, x0, logger)
		if err != nil {
			return err
		}
		return reportRollout(st, cfg, meta.Solver, result)
	}

	if _, err := newSimulator(cfg, model, fb, fb, logger); err != nil {
		return err
	}
	factory := func() *sim.Simulator {
		// each run needs a fresh model and fresh metrics
		m, _ := cfg.BuildModel()
		s, _ := newSimulator(cfg, m, fb, fb, logger.Named("sim"))
		return s
	}
	x0s := make([]dynamo.State, ensemble)
	for i := range x0s {
		offset := 0.0
		if ensemble > 1 {
			offset = spread * (2*float64(i)/float64(ensemble-1) - 1)
		}
		x0s[i] = x0.Clone()
		for d := range x0s[i] {
			x0s[i][d] += offset
		}
	}

	fmt.Printf("simulating %d perturbed rollouts of %s...\n\n", ensemble, meta.ID)
	results, err := sim.NewEnsemble(factory, runtime.NumCPU()).Run(cmd.Context(), x0s, cfg.SimConfig())
	if err != nil {
		return err
	}
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			fmt.Sprintf("%.4f", []float64(x0s[i])),
			fmt.Sprintf("%.6g", r.Metrics["running_cost"]),
			fmt.Sprintf("%.4g", r.Metrics["tracking_error"]),
			fmt.Sprintf("%.4f", []float64(r.States[len(r.States)-1])),
		}
	}
	fmt.Println(viz.Table([]string{"X0", "COST", "TRACKING", "FINAL STATE"}, rows))
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{
			run.ID,
			run.Kind,
			run.Model,
			run.Solver,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			fmt.Sprint(run.Horizon),
			fmt.Sprintf("%.4fs", run.Dt),
		}
	}
	fmt.Println(viz.Table([]string{"ID", "KIND", "MODEL", "SOLVER", "TIME", "N", "DT"}, rows))
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	if len(traj.States) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(traj.States))

	if phase {
		nx := len(traj.States[0])
		if xAxis < 0 || xAxis >= nx || yAxis < 0 || yAxis >= nx {
			return fmt.Errorf("axes must be in [0, %d)", nx)
		}
		fmt.Printf("x%d vs x%d\n", yAxis, xAxis)
		fmt.Println(viz.Panel.Render(viz.Phase(traj.States, xAxis, yAxis, 60, 20).String()))
		return nil
	}
	fmt.Print(viz.Trajectory(traj.States, traj.Controls, 80, 10))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, *meta, traj)
}
