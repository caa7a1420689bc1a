package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"postpilot/internal/automation"
	"postpilot/internal/automation/cadence"
	logx "postpilot/pkg/logx"
)

// runTick evaluates all enabled rules once. It is re-entrancy-guarded: if the
// previous tick is still running the call returns immediately. Rules evaluate
// concurrently so one hung collaborator call cannot stall the rest of the
// tick.
func (s *Service) runTick(ctx context.Context) {
	if !s.tickBusy.CompareAndSwap(false, true) {
		s.st.tickSkipped()
		s.deps.Metrics.TickSkipped()
		s.log.Warn("previous tick still running; skipping")
		return
	}
	defer s.tickBusy.Store(false)

	cfg := s.config()
	start := time.Now()
	s.deps.Metrics.TickStarted()
	now := s.nowFn()

	rules, err := s.listRules(ctx, cfg)
	if err != nil {
		// Transient: the next tick retries naturally.
		s.log.Warn("listing enabled rules failed", logx.Err(err))
		s.st.tickDone(start)
		return
	}

	memo := &anchorMemo{entries: map[automation.ContentType]*anchorEntry{}}
	var claimed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(cfg.RuleWorkers)
	for _, rule := range rules {
		rule := rule
		g.Go(func() error {
			s.evalRule(ctx, cfg, now, rule, memo, &claimed)
			return nil
		})
	}
	_ = g.Wait()

	s.st.tickDone(start)
	if n := claimed.Load(); n > 0 {
		s.log.Info("tick evaluated",
			logx.Int("rules", len(rules)),
			logx.Int64("claimed", n),
			logx.Duration("took", time.Since(start)))
	} else {
		s.log.Debug("tick evaluated",
			logx.Int("rules", len(rules)),
			logx.Duration("took", time.Since(start)))
	}
}

// evalRule evaluates one rule and claims plus enqueues its firings.
func (s *Service) evalRule(ctx context.Context, cfg Config, now time.Time, rule automation.Rule, memo *anchorMemo, claimed *atomic.Int64) {
	var anchors []automation.AnchorEvent
	if cadence.NeedsAnchors(rule) {
		anchors = memo.get(rule.ContentType, func() []automation.AnchorEvent {
			return s.fetchAnchors(ctx, cfg, now, rule)
		})
	}

	firings, err := cadence.Evaluate(now, rule, anchors)
	if err != nil {
		// Configuration error: the rule never fires; visible in the
		// snapshot, never fatal to the tick.
		s.st.setRuleError(rule.ID, err)
		return
	}
	s.st.clearRuleError(rule.ID)

	for _, f := range firings {
		if s.claim(ctx, cfg, rule, f) {
			claimed.Add(1)
			s.enqueue(firing{f: f, claimed: time.Now()})
		}
	}
}

func (s *Service) listRules(ctx context.Context, cfg Config) ([]automation.Rule, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return s.deps.Rules.ListEnabledRules(cctx)
}

// anchorMemo shares one anchor fetch per content type across the rules of a
// tick, even when they evaluate concurrently.
type anchorMemo struct {
	mu      sync.Mutex
	entries map[automation.ContentType]*anchorEntry
}

type anchorEntry struct {
	once   sync.Once
	events []automation.AnchorEvent
}

func (m *anchorMemo) get(t automation.ContentType, fetch func() []automation.AnchorEvent) []automation.AnchorEvent {
	m.mu.Lock()
	e := m.entries[t]
	if e == nil {
		e = &anchorEntry{}
		m.entries[t] = e
	}
	m.mu.Unlock()
	e.once.Do(func() { e.events = fetch() })
	return e.events
}

// fetchAnchors returns the ranked anchors for the rule's content type. A
// fetch failure yields zero anchors (the rule simply doesn't fire this tick),
// never a tick abort.
func (s *Service) fetchAnchors(ctx context.Context, cfg Config, now time.Time, rule automation.Rule) []automation.AnchorEvent {
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	events, err := s.deps.Anchors.TopEvents(cctx, rule.ContentType,
		now.Add(-cfg.AnchorLookbehind), now.Add(cfg.AnchorLookahead),
		cadence.TopK(rule))
	if err != nil {
		s.log.Warn("anchor fetch failed; treating as no events",
			logx.String("rule", rule.ID),
			logx.String("type", string(rule.ContentType)),
			logx.Err(err))
		return nil
	}
	return events
}

// claim gates a firing through the atomic store claim. On store failure the
// fire is allowed (availability over strict dedup) and the degraded state is
// flagged.
func (s *Service) claim(ctx context.Context, cfg Config, rule automation.Rule, f cadence.Firing) bool {
	window := rule.Cooldown
	if window <= 0 {
		window = cfg.Cooldown
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	ok, err := s.deps.Log.TryClaim(cctx, f.DedupKey, window)
	if err != nil {
		s.st.markDegraded()
		s.deps.Metrics.StoreDegraded()
		s.log.Warn("dedup claim failed; allowing fire (degraded)",
			logx.String("key", f.DedupKey),
			logx.Err(err))
		return true
	}
	if !ok {
		s.log.Debug("fire suppressed by dedup window",
			logx.String("key", f.DedupKey),
			logx.String("reason", f.Reason))
		return false
	}
	return true
}

// runRetention prunes old execution records on its own cadence.
func (s *Service) runRetention(ctx context.Context) {
	cfg := s.config()
	now := time.Now()
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	n, err := s.deps.Log.Prune(cctx,
		now.Add(-cfg.Retention.MaxAge),
		now.Add(-cfg.Retention.FailedMaxAge))
	if err != nil {
		s.log.Warn("retention prune failed", logx.Err(err))
		return
	}
	s.st.pruned(n)
	s.deps.Metrics.RecordsPruned(n)
	if n > 0 {
		s.log.Info("execution records pruned", logx.Int64("removed", n))
	}
}
