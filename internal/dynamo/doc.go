// Package dynamo provides the core primitives shared by the optimizer.
//
// The package defines the fundamental interfaces and types for controlled
// ordinary differential equations:
//
//   - [State], [Control]: plain vectors with gonum views
//   - [System]: nonlinear dynamics dX/dt = f(X, u, t)
//   - [LinearSystem]: Jacobians of a [System] around an operating point
//   - [Integrator]: single-step numerical integrator
//   - [Controller]: feedback policy used by rollouts
//
// # Example
//
//	dyn := physics.NewPendulum()
//	A, B := dyn.Derivatives(dynamo.State{0.1, 0}, dynamo.Control{0}, 0)
//
// # Thread Safety
//
// Values in this package carry no synchronization. Systems are expected to be
// stateless so that several goroutines may call Derive concurrently.
package dynamo
