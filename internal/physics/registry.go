package physics

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Model is a system that can also report its own linearization.
type Model interface {
	dynamo.System
	dynamo.LinearSystem
}

var models = map[string]func() Model{
	"pendulum":          func() Model { return NewPendulum() },
	"cartpole":          func() Model { return NewCartPole() },
	"oscillator":        func() Model { return NewLinearOscillator() },
	"double_integrator": func() Model { return NewDoubleIntegrator() },
}

func GetModel(name string) (Model, error) {
	fn, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn(), nil
}

func ListModels() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsLinear reports whether the named model has constant Jacobians.
func IsLinear(name string) bool {
	return name == "oscillator" || name == "double_integrator"
}
