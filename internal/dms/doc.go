// Package dms implements direct multiple shooting on top of the sensitivity
// integrator.
//
// The horizon is split into N shots. A [DecisionVector] carries the shot
// initial states s_i and control parameters q_i; every mutation bumps its
// [Version]. Each [ShotContainer] integrates one shot and caches four tiers:
//
//	state -> cost
//	state -> sensitivities -> cost sensitivities
//
// A tier is recomputed only when the version it was computed at differs from
// the vector's current version. [Shots] integrates all containers
// concurrently and assembles the shot linearization into an
// [lqoc.Problem] for a Gauss-Newton step.
package dms
