package automation

import (
	"context"
	"time"
)

// RuleSource lists the enabled automation rules to evaluate each tick.
type RuleSource interface {
	ListEnabledRules(ctx context.Context) ([]Rule, error)
}

// ChannelDirectory resolves the active, opted-in target channels of a rule.
type ChannelDirectory interface {
	ActiveChannels(ctx context.Context, rule Rule) ([]Channel, error)
}

// AnchorEventSource returns the top ranked anchor events starting inside
// [from, to], ordered by importance, at most limit entries.
type AnchorEventSource interface {
	TopEvents(ctx context.Context, contentType ContentType, from, to time.Time, limit int) ([]AnchorEvent, error)
}

// ContentGenerator produces post content for a channel's language.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (Content, error)
}

// Decision is a rate limiter verdict. Denial is expected behavior, not an
// error: the executor records it and moves on.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// RateLimiter answers per-channel send eligibility. The channel is passed
// whole so per-channel budget overrides stay inside the limiter; its internal
// windowing is opaque to the engine.
type RateLimiter interface {
	Allow(contentType ContentType, ch Channel) Decision
}

// Dispatcher delivers content to a channel and returns the transport message
// identifier.
type Dispatcher interface {
	Send(ctx context.Context, ch Channel, content Content) (string, error)
}

// ApprovalSink persists a pending-approval artifact for rules that require
// manual review before dispatch.
type ApprovalSink interface {
	CreatePending(ctx context.Context, rule Rule, ch Channel, content Content) error
}

// ExecutionLog is the durable fire history: the ground truth for dedup and the
// only shared mutable state across engine instances.
type ExecutionLog interface {
	// TryClaim atomically claims the dedup key for the given window.
	// It returns false if the key is already claimed. The claim must be a
	// single conditional write at the store, never a read followed by a
	// write, so overlapping ticks and concurrent engine instances cannot
	// both proceed.
	TryClaim(ctx context.Context, key string, window time.Duration) (bool, error)

	// Record appends one completed fire attempt.
	Record(ctx context.Context, rec ExecutionRecord) error

	// Prune removes records older than olderThan, and non-success records
	// older than failedOlderThan. Returns the number of rows removed.
	Prune(ctx context.Context, olderThan, failedOlderThan time.Time) (int64, error)
}
