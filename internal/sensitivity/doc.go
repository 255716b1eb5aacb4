// Package sensitivity integrates a controlled system with a fixed-step
// explicit Runge-Kutta scheme and propagates first-order sensitivities of the
// end state and of the running cost.
//
// Sensitivities are pushed through the same stages as the state, so they are
// the exact derivative of the discrete map rather than an approximation of
// the continuous variational equations:
//
//	integ, _ := sensitivity.New(sys, integrators.RK4Tableau)
//	integ.SetLinearSystem(sys)
//	xs, ts := integ.Integrate(x0, input, 0, 10, 0.01)
//	_ = integ.Linearize(xs, ts, input, 0.01)
//	S := identity(nx)
//	_ = integ.SensitivityDX0(S, 0.01)
package sensitivity
