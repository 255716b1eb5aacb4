package config

import "slices"

func preset(mutate func(c *Config)) *Config {
	c := DefaultConfig()
	mutate(c)
	return c
}

var Presets = map[string]map[string]*Config{
	"double_integrator": {
		"benchmark": DefaultConfig(),
		"boxed": preset(func(c *Config) {
			c.Solver = "interior_point"
			c.Bounds.UMin = []float64{-0.5}
			c.Bounds.UMax = []float64{0.5}
		}),
		"long": preset(func(c *Config) {
			c.Horizon = 50
			c.Dt = 0.1
		}),
	},
	"oscillator": {
		"damp": preset(func(c *Config) {
			c.Model = "oscillator"
			c.X0 = []float64{2.5, 0}
			c.Horizon = 20
			c.Dt = 0.25
		}),
		"state_bounded": preset(func(c *Config) {
			c.Model = "oscillator"
			c.Solver = "interior_point"
			c.Horizon = 20
			c.Dt = 0.25
			c.Bounds.XMin = []float64{-0.5, -2}
			c.Bounds.XMax = []float64{3, 2}
		}),
	},
	"pendulum": {
		"swing_down": preset(func(c *Config) {
			c.Model = "pendulum"
			c.X0 = []float64{1.0, 0}
			c.Cost = CostConfig{Q: []float64{10, 1}, R: []float64{0.1}, Qf: []float64{100, 10}}
			c.DMS.Shots = 20
			c.DMS.T = 3
			c.Rollout.Duration = 5
		}),
		"limited_torque": preset(func(c *Config) {
			c.Model = "pendulum"
			c.Solver = "interior_point"
			c.X0 = []float64{0.8, 0}
			c.Cost = CostConfig{Q: []float64{10, 1}, R: []float64{0.1}, Qf: []float64{100, 10}}
			c.Bounds.UMin = []float64{-2}
			c.Bounds.UMax = []float64{2}
			c.DMS.Shots = 20
			c.DMS.T = 3
		}),
	},
	"cartpole": {
		"balance": preset(func(c *Config) {
			c.Model = "cartpole"
			c.X0 = []float64{0, 0, 0.2, 0}
			c.XFinal = []float64{0, 0, 0, 0}
			c.Cost = CostConfig{Q: []float64{1, 0.1, 10, 1}, R: []float64{0.01}, Qf: []float64{10, 1, 100, 10}}
			c.Horizon = 40
			c.Dt = 0.05
			c.DMS.Shots = 20
			c.DMS.T = 2
			c.DMS.DtSim = 0.005
			c.Rollout.Dt = 0.005
			c.Rollout.Duration = 4
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
