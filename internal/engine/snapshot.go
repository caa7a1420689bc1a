package engine

import (
	"time"

	"postpilot/internal/automation"
)

// Snapshot returns a copy of the engine's runtime state.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{Active: s.IsActive()}
	s.mu.Lock()
	snap.Interval = s.cfg.TickInterval
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	s.mu.Unlock()

	st := &s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	snap.Ticks = st.ticks
	snap.SkippedTicks = st.skippedTicks
	snap.LastTickAt = st.lastTickAt
	snap.LastTickDur = st.lastTickDur
	snap.StoreDegraded = st.storeDegraded
	snap.LastDegradedAt = st.lastDegradedAt
	snap.PrunedTotal = st.prunedTotal
	snap.LastPruneAt = st.lastPruneAt

	snap.Counts = make(map[automation.Outcome]uint64, len(st.counts))
	for k, v := range st.counts {
		snap.Counts[k] = v
	}
	snap.LastFire = make(map[string]time.Time, len(st.lastFire))
	for k, v := range st.lastFire {
		snap.LastFire[k] = v
	}
	snap.RuleErrors = make(map[string]string, len(st.ruleErrors))
	for k, v := range st.ruleErrors {
		snap.RuleErrors[k] = v
	}
	return snap
}

func (st *stats) tickDone(start time.Time) {
	st.mu.Lock()
	st.ticks++
	st.lastTickAt = start
	st.lastTickDur = time.Since(start)
	st.mu.Unlock()
}

func (st *stats) tickSkipped() {
	st.mu.Lock()
	st.skippedTicks++
	st.mu.Unlock()
}

func (st *stats) setRuleError(ruleID string, err error) {
	st.mu.Lock()
	st.ruleErrors[ruleID] = err.Error()
	st.mu.Unlock()
}

func (st *stats) clearRuleError(ruleID string) {
	st.mu.Lock()
	delete(st.ruleErrors, ruleID)
	st.mu.Unlock()
}

func (st *stats) recordOutcome(ruleID string, o automation.Outcome, at time.Time) {
	st.mu.Lock()
	st.counts[o]++
	if o.Success() {
		st.lastFire[ruleID] = at
	}
	st.mu.Unlock()
}

func (st *stats) markDegraded() {
	st.mu.Lock()
	st.storeDegraded = true
	st.lastDegradedAt = time.Now()
	st.mu.Unlock()
}

func (st *stats) pruned(n int64) {
	st.mu.Lock()
	st.prunedTotal += n
	st.lastPruneAt = time.Now()
	st.mu.Unlock()
}
