// Package engine runs the automation tick loop: every interval it evaluates
// all enabled rules against their cadence, gates eligible firings through the
// store-backed dedup claim, and executes claimed firings on a bounded worker
// pool. A separate retention cadence prunes old execution records.
//
// # Concurrency
//
// Rules are independent: they evaluate concurrently within a tick (anchor
// fetches shared once per content type), firings run across a worker pool,
// and within one firing per-channel work fans out with a bounded limit. One
// hung rule cannot serialize the rest of the tick. Every collaborator
// call carries a timeout. If a tick is still running when the next interval
// arrives, the new tick is skipped (counted in the snapshot), never stacked.
//
// # Dedup
//
// At-most-once-per-window firing is enforced by ExecutionLog.TryClaim, an
// atomic conditional write at the store. This holds across overlapping ticks
// and across multiple engine processes sharing one database. If the claim
// query itself fails, the engine fires anyway (availability over strict
// dedup) and flags the degraded store in its snapshot.
package engine
