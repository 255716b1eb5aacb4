package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/logging"
)

var (
	dataDir    string
	configFile string
	preset     string
	solverName string
	logLevel   string
	horizon    int
	dt         float64
	iterations int
	workers    int
	tolerance  float64
	noSave     bool
	rollout    bool
	plot       bool
	themeName  string
	ensemble   int
	spread     float64
	// Phase plot axes
	xAxis int
	yAxis int
	phase bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "dynopt",
		Short:        "linear-quadratic optimal control and multiple shooting lab",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".dynopt", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	solveCmd := &cobra.Command{
		Use:   "solve [model]",
		Short: "solve the LQOC problem linearized at x0",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSolve,
	}
	problemFlags(solveCmd)
	solveCmd.Flags().BoolVar(&rollout, "rollout", false, "simulate the plan in closed loop")
	solveCmd.Flags().BoolVar(&plot, "plot", false, "plot the planned trajectory")

	compareCmd := &cobra.Command{
		Use:   "compare [model]",
		Short: "solve with riccati and interior point side by side",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCompare,
	}
	problemFlags(compareCmd)

	dmsCmd := &cobra.Command{
		Use:   "dms [model]",
		Short: "optimize the nonlinear model with direct multiple shooting",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDMS,
	}
	problemFlags(dmsCmd)
	dmsFlags(dmsCmd)

	watchCmd := &cobra.Command{
		Use:   "watch [model]",
		Short: "watch multiple shooting converge",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	problemFlags(watchCmd)
	dmsFlags(watchCmd)
	watchCmd.Flags().StringVar(&themeName, "theme", "cyberpunk", "color theme")

	shotsCmd := &cobra.Command{
		Use:   "shots [model]",
		Short: "show per-shot defects and costs of the initial guess",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runShots,
	}
	problemFlags(shotsCmd)

	lqrCmd := &cobra.Command{
		Use:   "lqr [model]",
		Short: "stabilize x_final with the steady-state gain",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLQR,
	}
	problemFlags(lqrCmd)

	rolloutCmd := &cobra.Command{
		Use:   "rollout [run_id]",
		Short: "simulate a saved plan with its feedback gains",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollout,
	}
	rolloutCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rolloutCmd.Flags().IntVar(&ensemble, "ensemble", 0, "number of perturbed initial states")
	rolloutCmd.Flags().Float64Var(&spread, "spread", 0.1, "ensemble perturbation")
	rolloutCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().BoolVar(&phase, "phase", false, "phase space plot")
	plotCmd.Flags().IntVar(&xAxis, "x-axis", 0, "state index for x-axis")
	plotCmd.Flags().IntVar(&yAxis, "y-axis", 1, "state index for y-axis")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(solveCmd, compareCmd, dmsCmd, watchCmd, shotsCmd, lqrCmd, rolloutCmd, listCmd, plotCmd, exportCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func problemFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&solverName, "solver", "riccati", "riccati or interior_point")
	cmd.Flags().IntVar(&horizon, "horizon", config.DefaultHorizon, "number of stages")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "stage length")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
}

func dmsFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&iterations, "iterations", 10, "Gauss-Newton iterations")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent shot integrations (0 = all CPUs)")
	cmd.Flags().Float64Var(&tolerance, "tol", 1e-6, "stop when defects and steps fall below")
}

// loadConfig resolves the configuration for model: an explicit config file
// wins over a preset, and changed flags win over both. A model without
// either starts from its first preset.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, *zap.SugaredLogger, error) {
	model := ""
	if len(args) > 0 {
		model = args[0]
	}

	cfg := config.DefaultConfig()
	switch {
	case configFile != "":
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	case preset != "":
		if model == "" {
			model = cfg.Model
		}
		p := config.GetPreset(model, preset)
		if p == nil {
			return nil, nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
		cfg = p
	case model != "" && model != cfg.Model:
		names := config.ListPresets(model)
		if len(names) == 0 {
			cfg.Model = model
		} else {
			cfg = config.GetPreset(model, names[0])
		}
	}
	if model != "" && cfg.Model != model {
		return nil, nil, fmt.Errorf("config is for model %s, not %s", cfg.Model, model)
	}

	flags := cmd.Flags()
	if flags.Changed("solver") {
		cfg.Solver = solverName
	}
	if flags.Changed("horizon") {
		cfg.Horizon = horizon
	}
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("iterations") {
		cfg.DMS.Iterations = iterations
	}
	if flags.Changed("workers") {
		cfg.DMS.Workers = workers
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
