package cadence

import (
	"fmt"
	"time"

	"postpilot/internal/automation"
)

// DefaultMatchWindow is the tolerance around a computed fire target.
const DefaultMatchWindow = 5 * time.Minute

// DefaultSpan is the continuous eligibility span for event-relative rules.
const DefaultSpan = 2 * time.Hour

// DefaultTopK bounds how many ranked anchors are considered per tick.
const DefaultTopK = 5

// Firing is one cadence-eligible fire of a rule. Event-relative rules may
// produce several per tick (one per matching anchor), each with its own dedup
// key.
type Firing struct {
	Rule   automation.Rule
	Anchor *automation.AnchorEvent
	// Reason names the first eligible trigger, for logging only.
	Reason   string
	DedupKey string
}

// NeedsAnchors reports whether evaluating the rule requires anchor events, so
// the engine can fetch them lazily.
func NeedsAnchors(r automation.Rule) bool {
	return r.Cadence == automation.CadenceEventRelative
}

// Evaluate decides whether the rule fires at now. anchors is consulted only by
// event-relative rules and is assumed to be importance-ranked already; it is
// truncated to the rule's TopK. A malformed spec returns an error and no
// firings.
func Evaluate(now time.Time, r automation.Rule, anchors []automation.AnchorEvent) ([]Firing, error) {
	if !r.Enabled {
		return nil, nil
	}
	if err := Validate(r); err != nil {
		return nil, err
	}

	switch r.Cadence {
	case automation.CadenceFixedTime:
		return evalFixedTime(now, r)
	case automation.CadencePeriodicSlot:
		return evalPeriodicSlot(now, r)
	case automation.CadenceContextWindow:
		return evalContextWindow(now, r)
	case automation.CadenceEventRelative:
		return evalEventRelative(now, r, anchors), nil
	default:
		return nil, fmt.Errorf("rule %s: unknown cadence %q", r.ID, r.Cadence)
	}
}

func matchWindow(r automation.Rule) time.Duration {
	if r.Spec.MatchWindow > 0 {
		return r.Spec.MatchWindow
	}
	return DefaultMatchWindow
}

// TopK returns the anchor budget of an event-relative rule.
func TopK(r automation.Rule) int {
	if r.Spec.TopK > 0 {
		return r.Spec.TopK
	}
	return DefaultTopK
}

func evalFixedTime(now time.Time, r automation.Rule) ([]Firing, error) {
	window := matchWindow(r)
	for _, raw := range r.Spec.Times {
		h, m, err := parseHHMM(raw)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		target := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		// A match window can straddle midnight, so the same wall-clock
		// target on the adjacent days counts too.
		for _, cand := range []time.Time{target.AddDate(0, 0, -1), target, target.AddDate(0, 0, 1)} {
			if absDelta(now, cand) <= window {
				// At most one firing per rule per tick; first eligible target wins.
				return []Firing{{
					Rule:     r,
					Reason:   "fixed:" + raw,
					DedupKey: automation.DedupKey(r.ID, ""),
				}}, nil
			}
		}
	}
	return nil, nil
}

func evalPeriodicSlot(now time.Time, r automation.Rule) ([]Firing, error) {
	if !inActiveHours(now.Hour(), r.Spec.ActiveFrom, r.Spec.ActiveTo) {
		return nil, nil
	}
	if !inSlot(now.Minute(), r.Spec.SlotFrom, r.Spec.SlotTo) {
		return nil, nil
	}
	return []Firing{{
		Rule:     r,
		Reason:   fmt.Sprintf("slot:%02d:%02d-%02d", now.Hour(), r.Spec.SlotFrom, r.Spec.SlotTo),
		DedupKey: automation.DedupKey(r.ID, ""),
	}}, nil
}

func evalContextWindow(now time.Time, r automation.Rule) ([]Firing, error) {
	if !parityMatches(now.Hour(), r.Spec.Parity) {
		return nil, nil
	}
	f, err := evalPeriodicSlot(now, r)
	if err != nil || len(f) == 0 {
		return nil, err
	}
	f[0].Reason = fmt.Sprintf("context:%s-hour:%02d", r.Spec.Parity, now.Hour())
	return f, nil
}

func evalEventRelative(now time.Time, r automation.Rule, anchors []automation.AnchorEvent) []Firing {
	// Zero matching anchors means no fire attempt and no error.
	if len(anchors) == 0 {
		return nil
	}
	if k := TopK(r); len(anchors) > k {
		anchors = anchors[:k]
	}

	window := matchWindow(r)
	span := r.Spec.Span
	if span <= 0 {
		span = DefaultSpan
	}
	offset := time.Duration(r.Spec.OffsetMinutes) * time.Minute

	var out []Firing
	for i := range anchors {
		a := anchors[i]
		var reason string
		if r.Spec.Continuous {
			if now.Before(a.StartsAt) || now.After(a.StartsAt.Add(span)) {
				continue
			}
			reason = "anchor-span:" + a.ID
		} else {
			target := a.StartsAt.Add(offset)
			if absDelta(now, target) > window {
				continue
			}
			reason = fmt.Sprintf("anchor:%s%+dm", a.ID, r.Spec.OffsetMinutes)
		}
		out = append(out, Firing{
			Rule:     r,
			Anchor:   &a,
			Reason:   reason,
			DedupKey: automation.DedupKey(r.ID, a.ID),
		})
	}
	return out
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}

// inActiveHours checks h against the inclusive [from, to] range.
// The range may wrap midnight (from > to, e.g. 22..2).
func inActiveHours(h, from, to int) bool {
	if from <= to {
		return h >= from && h <= to
	}
	return h >= from || h <= to
}

func inSlot(minute, from, to int) bool {
	return minute >= from && minute <= to
}

func parityMatches(hour int, p automation.HourParity) bool {
	switch p {
	case automation.ParityEven:
		return hour%2 == 0
	case automation.ParityOdd:
		return hour%2 == 1
	default:
		return true
	}
}
