// Package automation defines the domain model shared by the scheduling engine:
// rules, channels, anchor events, execution records, and the collaborator
// interfaces the engine consumes (stores, generator, limiter, dispatcher).
//
// The engine only reads rules, channels, and anchor events; the execution log
// is the single piece of shared mutable state and all dedup-relevant writes go
// through it.
package automation
