// Package storage persists the engine's shared state:
//   - Execution log (fire attempts; ground truth for dedup and retention)
//   - Dedup claims (atomic claim-if-absent keyed by rule or rule+anchor)
//   - Rules and channels (written by the dashboard, read-only here)
//   - Pending approvals
//
// Backends: sqlite (single-node default), postgres (shared across engine
// instances), memory (tests).
package storage
