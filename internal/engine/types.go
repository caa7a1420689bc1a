package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/internal/automation"
	"postpilot/internal/automation/cadence"
	logx "postpilot/pkg/logx"
)

// Config controls the engine service.
type Config struct {
	Enabled bool
	// TickInterval drives rule evaluation. Default 60s.
	TickInterval time.Duration
	// RuleWorkers bounds concurrent rule evaluation within a tick and the
	// firing execution pool. Default 4.
	RuleWorkers int
	// ChannelWorkers bounds per-firing channel fan-out. Default 5.
	ChannelWorkers int
	// Cooldown is the default dedup window. Rules may override. Default 30m.
	Cooldown time.Duration
	// CallTimeout bounds each collaborator call. Default 10s.
	CallTimeout time.Duration
	// AnchorLookbehind/AnchorLookahead bound the anchor fetch window around
	// now. Defaults 4h back, 24h ahead (continuous spans and negative
	// offsets need events that already started).
	AnchorLookbehind time.Duration
	AnchorLookahead  time.Duration

	Retention RetentionConfig
}

// RetentionConfig controls execution-record pruning.
type RetentionConfig struct {
	// Interval between prune runs. Default 1h.
	Interval time.Duration
	// MaxAge removes any record. Default 7 days.
	MaxAge time.Duration
	// FailedMaxAge removes non-success records sooner. Default 24h.
	FailedMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.RuleWorkers <= 0 {
		c.RuleWorkers = 4
	}
	if c.ChannelWorkers <= 0 {
		c.ChannelWorkers = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.AnchorLookbehind <= 0 {
		c.AnchorLookbehind = 4 * time.Hour
	}
	if c.AnchorLookahead <= 0 {
		c.AnchorLookahead = 24 * time.Hour
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Retention.MaxAge <= 0 {
		c.Retention.MaxAge = 7 * 24 * time.Hour
	}
	if c.Retention.FailedMaxAge <= 0 {
		c.Retention.FailedMaxAge = 24 * time.Hour
	}
	return c
}

// Validate rejects configurations where retention could race the dedup
// window: a claim must always outlive the records backing it up.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Cooldown >= c.Retention.FailedMaxAge {
		return fmt.Errorf("cooldown %v must stay below the failed-record retention horizon %v", c.Cooldown, c.Retention.FailedMaxAge)
	}
	if c.Retention.FailedMaxAge > c.Retention.MaxAge {
		return fmt.Errorf("failed-record horizon %v exceeds the full retention horizon %v", c.Retention.FailedMaxAge, c.Retention.MaxAge)
	}
	return nil
}

// Deps are the injected collaborators. All are required except Metrics.
type Deps struct {
	Rules      automation.RuleSource
	Channels   automation.ChannelDirectory
	Anchors    automation.AnchorEventSource
	Generator  automation.ContentGenerator
	Limiter    automation.RateLimiter
	Dispatcher automation.Dispatcher
	Approvals  automation.ApprovalSink
	Log        automation.ExecutionLog

	Metrics Metrics
}

// Metrics receives engine counters. The ops package provides a prometheus
// implementation; the zero default is a no-op.
type Metrics interface {
	TickStarted()
	TickSkipped()
	FireOutcome(outcome automation.Outcome)
	StoreDegraded()
	RecordsPruned(n int64)
}

type nopMetrics struct{}

func (nopMetrics) TickStarted()                   {}
func (nopMetrics) TickSkipped()                   {}
func (nopMetrics) FireOutcome(automation.Outcome) {}
func (nopMetrics) StoreDegraded()                 {}
func (nopMetrics) RecordsPruned(int64)            {}

// firing is one claimed, ready-to-execute fire.
type firing struct {
	f       cadence.Firing
	claimed time.Time
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	deps Deps

	c      *cron.Cron
	queue  chan firing
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// tickBusy is the overlap guard: a tick that would start while the
	// previous one still runs is skipped, not stacked.
	tickBusy atomic.Bool

	st stats

	// nowFn is swappable in tests.
	nowFn func() time.Time
}

// stats backs Snapshot(). Guarded by its own mutex so the hot path never
// contends with Start/Stop.
type stats struct {
	mu sync.Mutex

	ticks        uint64
	skippedTicks uint64
	lastTickAt   time.Time
	lastTickDur  time.Duration

	counts     map[automation.Outcome]uint64
	lastFire   map[string]time.Time
	ruleErrors map[string]string

	storeDegraded  bool
	lastDegradedAt time.Time
	prunedTotal    int64
	lastPruneAt    time.Time
}

// Snapshot is a point-in-time view of engine state for stats/health surfaces.
type Snapshot struct {
	Active   bool          `json:"active"`
	Interval time.Duration `json:"interval"`

	Ticks        uint64        `json:"ticks"`
	SkippedTicks uint64        `json:"skipped_ticks"`
	LastTickAt   time.Time     `json:"last_tick_at"`
	LastTickDur  time.Duration `json:"last_tick_dur"`
	QueueLen     int           `json:"queue_len"`

	Counts     map[automation.Outcome]uint64 `json:"counts"`
	LastFire   map[string]time.Time          `json:"last_fire"`
	RuleErrors map[string]string             `json:"rule_errors"`

	StoreDegraded  bool      `json:"store_degraded"`
	LastDegradedAt time.Time `json:"last_degraded_at,omitempty"`
	PrunedTotal    int64     `json:"pruned_total"`
	LastPruneAt    time.Time `json:"last_prune_at,omitempty"`
}
