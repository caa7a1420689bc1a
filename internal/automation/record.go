package automation

import "time"

// Outcome is the terminal state of one (rule, channel) fire attempt.
type Outcome string

const (
	OutcomeSent            Outcome = "SENT"
	OutcomePendingApproval Outcome = "PENDING_APPROVAL"
	OutcomeSendFailed      Outcome = "SEND_FAILED"
	OutcomeGenFailed       Outcome = "GEN_FAILED"
	OutcomeRateLimited     Outcome = "SKIPPED_RATE_LIMITED"
)

// Success reports whether the outcome counts as a successful fire for dedup
// and retention purposes.
func (o Outcome) Success() bool {
	return o == OutcomeSent || o == OutcomePendingApproval
}

// ExecutionRecord is the durable, append-only record of one fire attempt on
// one channel. Immutable once written; removed only by retention.
type ExecutionRecord struct {
	ID        string
	RuleID    string
	ChannelID string
	// AnchorID is set for event-relative fires.
	AnchorID string
	FiredAt  time.Time
	Outcome  Outcome
	Duration time.Duration
	// MessageID is the transport identifier returned on successful dispatch.
	MessageID string
	// Fallback marks a send whose content came from the fallback content type.
	Fallback bool
	Error    string
}
