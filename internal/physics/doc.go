// Package physics provides dynamical system models for trajectory optimization.
//
// Each model implements [dynamo.System] and [dynamo.LinearSystem]:
//
//   - [Pendulum]: damped torque-driven pendulum
//   - [CartPole]: pole balanced on a force-driven cart
//   - [LinearOscillator]: damped harmonic oscillator
//   - [DoubleIntegrator]: unit point mass
//
// [NumDiff] linearizes any system by central differences and [Discretize]
// turns a continuous (A, B) pair into its sampled counterpart:
//
//	A, B := physics.NewDoubleIntegrator().Derivatives(x0, u0, 0)
//	Ad, Bd, err := physics.Discretize(A, B, 0.5, physics.MatrixExponential)
//
// Models also implement [dynamo.Configurable] for parameter overrides from
// configuration files.
package physics
