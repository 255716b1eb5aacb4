// Package control turns optimizer output into [dynamo.Controller] values.
//
//   - [Feedback]: time-varying affine feedback along a solved trajectory
//   - [LQR]: static gain around an operating point, see [SteadyStateLQR]
//   - [OpenLoop]: replay of the nominal controls
//
// # Usage
//
//	solver.Solve()
//	fb, err := control.NewFromSolver(solver, dt)
//	s := sim.New(sys, integrators.NewRK4(), fb)
package control
