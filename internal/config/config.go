package config

import (
	"fmt"
	"os"
	"slices"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dms"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lqoc"
	"github.com/san-kum/dynopt/internal/physics"
)

const (
	DefaultHorizon  = 5
	DefaultDt       = 0.5
	DefaultDuration = 10.0
	DefaultSimDt    = 0.01
)

type Config struct {
	Model    string             `yaml:"model"`
	Solver   string             `yaml:"solver"`
	LogLevel string             `yaml:"log_level"`
	Horizon  int                `yaml:"horizon"`
	Dt       float64            `yaml:"dt"`
	X0       []float64          `yaml:"x0"`
	XFinal   []float64          `yaml:"x_final"`
	U0       []float64          `yaml:"u0"`
	Params   map[string]float64 `yaml:"params,omitempty"`
	Cost     CostConfig         `yaml:"cost"`
	Bounds   BoundsConfig       `yaml:"bounds"`
	IP       SolverConfig       `yaml:"interior_point"`
	DMS      DMSConfig          `yaml:"dms"`
	Rollout  RolloutConfig      `yaml:"rollout"`
}

// CostConfig holds weight diagonals.
type CostConfig struct {
	Q  []float64 `yaml:"q"`
	R  []float64 `yaml:"r"`
	Qf []float64 `yaml:"qf"`
}

// BoundsConfig holds absolute box bounds. Empty slices mean unbounded.
type BoundsConfig struct {
	UMin []float64 `yaml:"u_min,omitempty"`
	UMax []float64 `yaml:"u_max,omitempty"`
	XMin []float64 `yaml:"x_min,omitempty"`
	XMax []float64 `yaml:"x_max,omitempty"`
}

type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
}

type DMSConfig struct {
	Shots          int     `yaml:"shots"`
	T              float64 `yaml:"t"`
	DtSim          float64 `yaml:"dt_sim"`
	Integration    string  `yaml:"integration"`
	Spline         string  `yaml:"spline"`
	CostEvaluation string  `yaml:"cost_evaluation"`
	Iterations     int     `yaml:"iterations"`
	Workers        int     `yaml:"workers"`
}

type RolloutConfig struct {
	Integrator string  `yaml:"integrator"`
	Dt         float64 `yaml:"dt"`
	Duration   float64 `yaml:"duration"`
	Adaptive   bool    `yaml:"adaptive"`
	Tolerance  float64 `yaml:"tolerance"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:    "double_integrator",
		Solver:   "riccati",
		LogLevel: "info",
		Horizon:  DefaultHorizon,
		Dt:       DefaultDt,
		X0:       []float64{2.5, 0},
		XFinal:   []float64{0, 0},
		U0:       []float64{0},
		Cost: CostConfig{
			Q:  []float64{2, 2},
			R:  []float64{4},
			Qf: []float64{2, 2},
		},
		IP: SolverConfig{
			MaxIterations: 200,
			Tolerance:     1e-8,
		},
		DMS: DMSConfig{
			Shots:       10,
			T:           2.0,
			DtSim:       DefaultSimDt,
			Integration: "rk4",
			Spline:      "piecewise_constant",
			Iterations:  10,
		},
		Rollout: RolloutConfig{
			Integrator: "rk4",
			Dt:         DefaultSimDt,
			Duration:   DefaultDuration,
			Tolerance:  1e-6,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.X0 = slices.Clone(c.X0)
	out.XFinal = slices.Clone(c.XFinal)
	out.U0 = slices.Clone(c.U0)
	out.Cost = CostConfig{Q: slices.Clone(c.Cost.Q), R: slices.Clone(c.Cost.R), Qf: slices.Clone(c.Cost.Qf)}
	out.Bounds = BoundsConfig{
		UMin: slices.Clone(c.Bounds.UMin),
		UMax: slices.Clone(c.Bounds.UMax),
		XMin: slices.Clone(c.Bounds.XMin),
		XMax: slices.Clone(c.Bounds.XMax),
	}
	if c.Params != nil {
		out.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return &out
}

func checkLen(name string, v []float64, want int, optional bool) error {
	if optional && len(v) == 0 {
		return nil
	}
	if len(v) != want {
		return fmt.Errorf("%s has %d entries, model needs %d", name, len(v), want)
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	m, merr := c.BuildModel()
	if merr != nil {
		return merr
	}
	nx, nu := m.StateDim(), m.ControlDim()

	if _, e := lqoc.ParseKind(c.Solver); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Horizon < 1 {
		err = multierr.Append(err, fmt.Errorf("horizon must be at least 1, got %d", c.Horizon))
	}
	if c.Dt <= 0 {
		err = multierr.Append(err, fmt.Errorf("dt must be positive, got %f", c.Dt))
	}
	err = multierr.Combine(err,
		checkLen("x0", c.X0, nx, false),
		checkLen("x_final", c.XFinal, nx, false),
		checkLen("u0", c.U0, nu, false),
		checkLen("cost.q", c.Cost.Q, nx, false),
		checkLen("cost.r", c.Cost.R, nu, false),
		checkLen("cost.qf", c.Cost.Qf, nx, false),
		checkLen("bounds.u_min", c.Bounds.UMin, nu, true),
		checkLen("bounds.u_max", c.Bounds.UMax, nu, true),
		checkLen("bounds.x_min", c.Bounds.XMin, nx, true),
		checkLen("bounds.x_max", c.Bounds.XMax, nx, true),
	)
	if _, e := c.DMSSettings(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Rollout.Dt <= 0 || c.Rollout.Duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("rollout dt and duration must be positive"))
	}
	return err
}

// BuildModel resolves the model and applies parameter overrides.
func (c *Config) BuildModel() (physics.Model, error) {
	m, err := physics.GetModel(c.Model)
	if err != nil {
		return nil, err
	}
	if len(c.Params) == 0 {
		return m, nil
	}
	conf, ok := m.(dynamo.Configurable)
	if !ok {
		return nil, fmt.Errorf("model %s has no parameters", c.Model)
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var perr error
	for _, k := range keys {
		perr = multierr.Append(perr, conf.SetParam(k, c.Params[k]))
	}
	if perr != nil {
		return nil, perr
	}
	return m, nil
}

func (c *Config) CostFunction() (*costfunction.Quadratic, error) {
	return costfunction.NewDiagonal(c.Cost.Q, c.Cost.R, c.Cost.Qf, dynamo.State(c.XFinal))
}

func (c *Config) SolverKind() (lqoc.Kind, error) {
	return lqoc.ParseKind(c.Solver)
}

// SolverOptions carries the interior-point settings; Riccati ignores them.
func (c *Config) SolverOptions() []lqoc.Option {
	var opts []lqoc.Option
	if c.IP.MaxIterations > 0 {
		opts = append(opts, lqoc.WithMaxIterations(c.IP.MaxIterations))
	}
	if c.IP.Tolerance > 0 {
		opts = append(opts, lqoc.WithTolerance(c.IP.Tolerance))
	}
	return opts
}

// ApplyBounds copies the configured boxes into p.
func (c *Config) ApplyBounds(p *lqoc.Problem) error {
	var err error
	if len(c.Bounds.UMin) > 0 || len(c.Bounds.UMax) > 0 {
		lo, hi := fill(c.Bounds.UMin, c.Bounds.UMax, p.ControlDim())
		err = multierr.Append(err, p.SetControlBoxConstraints(lo, hi))
	}
	if len(c.Bounds.XMin) > 0 || len(c.Bounds.XMax) > 0 {
		lo, hi := fill(c.Bounds.XMin, c.Bounds.XMax, p.StateDim())
		err = multierr.Append(err, p.SetStateBoxConstraints(lo, hi))
	}
	return err
}

func fill(lo, hi []float64, n int) ([]float64, []float64) {
	l, h := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		l[i], h[i] = -lqoc.Unbounded, lqoc.Unbounded
		if i < len(lo) {
			l[i] = lo[i]
		}
		if i < len(hi) {
			h[i] = hi[i]
		}
	}
	return l, h
}

func (c *Config) DMSSettings() (dms.Settings, error) {
	s := dms.Settings{
		N:     c.DMS.Shots,
		T:     c.DMS.T,
		DtSim: c.DMS.DtSim,
	}
	var err error
	if s.Integration, err = dms.ParseIntegration(c.DMS.Integration); err != nil {
		return s, err
	}
	if s.Spline, err = dms.ParseSplineType(c.DMS.Spline); err != nil {
		return s, err
	}
	if s.CostEvaluation, err = dms.ParseCostEvaluation(c.DMS.CostEvaluation); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func (c *Config) SimConfig() dynamo.Config {
	cfg := dynamo.DefaultConfig()
	cfg.Dt = c.Rollout.Dt
	cfg.Duration = c.Rollout.Duration
	cfg.Adaptive = c.Rollout.Adaptive
	if c.Rollout.Tolerance > 0 {
		cfg.Tolerance = c.Rollout.Tolerance
	}
	return cfg
}
