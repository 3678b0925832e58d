// Package engine contains the tick pipeline and the scheduler loop.
// This is the heartbeat of the vault server.
//
// A tick never mutates a stored vault in place. The Orchestrator loads a
// snapshot under the vault lease, runs the systems on a working copy in a
// fixed order (production, happiness, progress, exploration, incidents),
// clamps the pools and commits one changeset guarded by the vault clock.
// Events are published only after that commit succeeds.
package engine
