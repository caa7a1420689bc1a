package automation

import (
	"strings"
	"time"
)

// CadenceKind selects the strategy deciding when a rule is eligible to fire.
type CadenceKind string

const (
	// CadenceFixedTime fires near configured HH:MM wall-clock targets.
	CadenceFixedTime CadenceKind = "fixed_time"
	// CadencePeriodicSlot fires inside a per-hour minute slot during active hours.
	CadencePeriodicSlot CadenceKind = "periodic_slot"
	// CadenceContextWindow is a periodic slot further gated by hour parity,
	// approximating an every-two-hours cadence without persisted state.
	CadenceContextWindow CadenceKind = "context_window"
	// CadenceEventRelative fires relative to externally sourced anchor events.
	CadenceEventRelative CadenceKind = "event_relative"
)

// HourParity gates context-window rules to even or odd hours.
type HourParity string

const (
	ParityAny  HourParity = ""
	ParityEven HourParity = "even"
	ParityOdd  HourParity = "odd"
)

// CadenceSpec carries the cadence-specific knobs of a rule. Only the fields
// relevant to the rule's CadenceKind are consulted.
type CadenceSpec struct {
	// Times are "HH:MM" wall-clock targets (fixed_time).
	Times []string
	// MatchWindow is the tolerance around a computed target instant.
	// Zero means the engine default (5 minutes).
	MatchWindow time.Duration

	// ActiveFrom/ActiveTo bound the active hours [from, to], inclusive.
	// A range may wrap midnight (e.g. 22..2). Used by periodic_slot and
	// context_window.
	ActiveFrom int
	ActiveTo   int
	// SlotFrom/SlotTo bound the per-hour minute sub-window, inclusive.
	SlotFrom int
	SlotTo   int
	// Parity gates context_window rules to even or odd hours.
	Parity HourParity

	// OffsetMinutes shifts the fire target relative to the anchor start
	// (event_relative, may be negative).
	OffsetMinutes int
	// Continuous makes the rule eligible for the whole [anchor, anchor+Span]
	// span instead of a single offset target.
	Continuous bool
	// Span is the continuous eligibility span. Zero means 2 hours.
	Span time.Duration
	// TopK bounds how many ranked anchors are considered per tick.
	// Zero means the engine default.
	TopK int
}

// Rule is a persisted automation rule. It is owned and edited by the
// surrounding dashboard; the engine only reads it.
type Rule struct {
	ID          string
	Name        string
	Enabled     bool
	Cadence     CadenceKind
	ContentType ContentType
	// ChannelTags select target channels; empty means all opted-in channels.
	ChannelTags []string
	// RequireApproval routes generated content to the approval queue instead
	// of dispatching it.
	RequireApproval bool
	// Cooldown overrides the engine dedup window. Zero means the default.
	Cooldown time.Duration

	Spec CadenceSpec
}

// ContentType names a kind of generated post (e.g. "daily_digest",
// "match_preview").
type ContentType string

// DefaultContentType is the fallback used when generation of the requested
// type fails once.
const DefaultContentType ContentType = "generic_update"

// Channel is a delivery target. Read-only from the engine's perspective.
type Channel struct {
	ID       string
	Title    string
	Language string
	Active   bool
	// AutoPost is the channel's opt-in flag for automated content.
	AutoPost bool
	Tags     []string
	// ChatID is the transport address (Telegram chat).
	ChatID int64
	// RatePerHour caps automated sends to this channel. Zero means the
	// limiter default.
	RatePerHour int
}

// AnchorEvent is an externally sourced, time-bound event (e.g. an upcoming
// match) used to compute event-relative fire targets. Ranked by importance.
type AnchorEvent struct {
	ID          string
	StartsAt    time.Time
	Importance  float64
	Home        string
	Away        string
	Competition string
}

// Content is a generated post ready for dispatch.
type Content struct {
	Type     ContentType
	Language string
	Text     string
	// Fallback marks content produced by the one-shot fallback type after the
	// requested type failed.
	Fallback bool
}

// GenerateRequest is the input to a ContentGenerator.
type GenerateRequest struct {
	Type     ContentType
	Language string
	// Anchor carries event context for event-relative rules; nil otherwise.
	Anchor *AnchorEvent
}

// DedupKey builds the identity against which at-most-once-per-window firing is
// enforced: the rule alone, or rule+anchor for event-relative rules so that
// concurrent events of the same rule type don't starve each other.
func DedupKey(ruleID, anchorID string) string {
	if strings.TrimSpace(anchorID) == "" {
		return ruleID
	}
	return ruleID + "@" + anchorID
}
