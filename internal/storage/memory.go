package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"postpilot/internal/automation"
)

// Memory is a process-local store. It backs tests and dry runs; being
// process-local it cannot guard dedup across engine instances.
type Memory struct {
	mu       sync.Mutex
	claims   map[string]time.Time
	records  []automation.ExecutionRecord
	rules    []automation.Rule
	channels []automation.Channel
	pending  []PendingApproval

	// FailClaims makes TryClaim return an error; exercises the engine's
	// degraded-store path in tests.
	FailClaims bool
}

// PendingApproval is a captured approval artifact.
type PendingApproval struct {
	Rule      automation.Rule
	Channel   automation.Channel
	Content   automation.Content
	CreatedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{claims: map[string]time.Time{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) SeedRules(rules ...automation.Rule) {
	m.mu.Lock()
	m.rules = append(m.rules, rules...)
	m.mu.Unlock()
}

func (m *Memory) SeedChannels(chs ...automation.Channel) {
	m.mu.Lock()
	m.channels = append(m.channels, chs...)
	m.mu.Unlock()
}

func (m *Memory) SeedRecords(recs ...automation.ExecutionRecord) {
	m.mu.Lock()
	m.records = append(m.records, recs...)
	m.mu.Unlock()
}

// Records returns a copy of all stored execution records.
func (m *Memory) Records() []automation.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]automation.ExecutionRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Pendings returns a copy of all captured approval artifacts.
func (m *Memory) Pendings() []PendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingApproval, len(m.pending))
	copy(out, m.pending)
	return out
}

func (m *Memory) TryClaim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("empty dedup key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailClaims {
		return false, errors.New("claim store unavailable")
	}
	now := time.Now()
	if until, ok := m.claims[key]; ok && until.After(now) {
		return false, nil
	}
	m.claims[key] = now.Add(window)
	return true, nil
}

func (m *Memory) Record(ctx context.Context, rec automation.ExecutionRecord) error {
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Prune(ctx context.Context, olderThan, failedOlderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []automation.ExecutionRecord
	var removed int64
	for _, rec := range m.records {
		drop := rec.FiredAt.Before(olderThan) ||
			(!rec.Outcome.Success() && rec.FiredAt.Before(failedOlderThan))
		if drop {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept

	now := time.Now()
	for k, until := range m.claims {
		if until.Before(now) {
			delete(m.claims, k)
		}
	}
	return removed, nil
}

func (m *Memory) ListEnabledRules(ctx context.Context) ([]automation.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []automation.Rule
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ActiveChannels(ctx context.Context, rule automation.Rule) ([]automation.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []automation.Channel
	for _, ch := range m.channels {
		if channelMatches(rule, ch) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *Memory) CreatePending(ctx context.Context, rule automation.Rule, ch automation.Channel, content automation.Content) error {
	m.mu.Lock()
	m.pending = append(m.pending, PendingApproval{Rule: rule, Channel: ch, Content: content, CreatedAt: time.Now()})
	m.mu.Unlock()
	return nil
}
