package cadence

import (
	"testing"
	"time"

	"postpilot/internal/automation"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func fixedRule(times ...string) automation.Rule {
	return automation.Rule{
		ID:      "r-fixed",
		Enabled: true,
		Cadence: automation.CadenceFixedTime,
		Spec:    automation.CadenceSpec{Times: times},
	}
}

func TestFixedTimeWindow(t *testing.T) {
	t.Parallel()
	r := fixedRule("09:00")

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "window start", now: at(8, 56), want: true},
		{name: "exact", now: at(9, 0), want: true},
		{name: "window end", now: at(9, 4), want: true},
		{name: "too early", now: at(8, 54), want: false},
		{name: "too late", now: at(9, 6), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.now, r, nil)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if (len(got) == 1) != tt.want {
				t.Fatalf("at %v: firings = %d, want fire=%v", tt.now, len(got), tt.want)
			}
		})
	}
}

func TestFixedTimeSingleFiringForOverlappingTargets(t *testing.T) {
	t.Parallel()
	// Both targets inside the window: still at most one firing per tick.
	r := fixedRule("09:00", "09:03")
	got, err := Evaluate(at(9, 1), r, nil)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("firings = %d, want 1", len(got))
	}
	if got[0].DedupKey != "r-fixed" {
		t.Fatalf("dedup key = %q, want rule id", got[0].DedupKey)
	}
	if got[0].Reason != "fixed:09:00" {
		t.Fatalf("reason = %q, want first eligible target", got[0].Reason)
	}
}

func TestDisabledRuleNeverFires(t *testing.T) {
	t.Parallel()
	r := fixedRule("09:00")
	r.Enabled = false
	got, err := Evaluate(at(9, 0), r, nil)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("disabled rule produced %d firings", len(got))
	}
}

func TestPeriodicSlot(t *testing.T) {
	t.Parallel()
	r := automation.Rule{
		ID:      "r-slot",
		Enabled: true,
		Cadence: automation.CadencePeriodicSlot,
		Spec:    automation.CadenceSpec{ActiveFrom: 8, ActiveTo: 22, SlotFrom: 0, SlotTo: 10},
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "inside slot", now: at(10, 5), want: true},
		{name: "slot edge", now: at(10, 10), want: true},
		{name: "outside slot", now: at(10, 30), want: false},
		{name: "before active hours", now: at(6, 5), want: false},
		{name: "after active hours", now: at(23, 5), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.now, r, nil)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if (len(got) == 1) != tt.want {
				t.Fatalf("at %v: firings = %d, want fire=%v", tt.now, len(got), tt.want)
			}
		})
	}
}

func TestActiveHoursWrapMidnight(t *testing.T) {
	t.Parallel()
	r := automation.Rule{
		ID:      "r-night",
		Enabled: true,
		Cadence: automation.CadencePeriodicSlot,
		Spec:    automation.CadenceSpec{ActiveFrom: 22, ActiveTo: 2, SlotFrom: 0, SlotTo: 5},
	}
	if got, _ := Evaluate(at(23, 3), r, nil); len(got) != 1 {
		t.Fatal("23:03 should be active for a 22..02 range")
	}
	if got, _ := Evaluate(at(1, 3), r, nil); len(got) != 1 {
		t.Fatal("01:03 should be active for a 22..02 range")
	}
	if got, _ := Evaluate(at(12, 3), r, nil); len(got) != 0 {
		t.Fatal("12:03 should not be active for a 22..02 range")
	}
}

func TestContextWindowParity(t *testing.T) {
	t.Parallel()
	r := automation.Rule{
		ID:      "r-ctx",
		Enabled: true,
		Cadence: automation.CadenceContextWindow,
		Spec: automation.CadenceSpec{
			ActiveFrom: 8, ActiveTo: 22,
			SlotFrom: 0, SlotTo: 10,
			Parity: automation.ParityEven,
		},
	}
	if got, _ := Evaluate(at(10, 5), r, nil); len(got) != 1 {
		t.Fatal("even hour inside slot should fire")
	}
	if got, _ := Evaluate(at(11, 5), r, nil); len(got) != 0 {
		t.Fatal("odd hour should not fire for even parity")
	}
}

func eventRule(offset int, continuous bool) automation.Rule {
	return automation.Rule{
		ID:      "r-event",
		Enabled: true,
		Cadence: automation.CadenceEventRelative,
		Spec:    automation.CadenceSpec{OffsetMinutes: offset, Continuous: continuous},
	}
}

func TestEventRelativeOffset(t *testing.T) {
	t.Parallel()
	anchors := []automation.AnchorEvent{
		{ID: "m1", StartsAt: at(18, 0)},
		{ID: "m2", StartsAt: at(20, 0)},
	}
	// Fire 30 minutes before kick-off.
	r := eventRule(-30, false)

	got, err := Evaluate(at(17, 31), r, anchors)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("firings = %d, want 1", len(got))
	}
	if got[0].Anchor == nil || got[0].Anchor.ID != "m1" {
		t.Fatalf("anchor = %+v, want m1", got[0].Anchor)
	}
	if got[0].DedupKey != "r-event@m1" {
		t.Fatalf("dedup key = %q, want composite rule@anchor", got[0].DedupKey)
	}
}

func TestEventRelativeConcurrentAnchors(t *testing.T) {
	t.Parallel()
	// Two matches kicking off at the same time: both produce firings with
	// distinct dedup keys.
	anchors := []automation.AnchorEvent{
		{ID: "m1", StartsAt: at(18, 0)},
		{ID: "m2", StartsAt: at(18, 2)},
	}
	r := eventRule(0, false)
	got, err := Evaluate(at(18, 1), r, anchors)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("firings = %d, want 2", len(got))
	}
	if got[0].DedupKey == got[1].DedupKey {
		t.Fatalf("dedup keys must differ, both %q", got[0].DedupKey)
	}
}

func TestEventRelativeContinuousSpan(t *testing.T) {
	t.Parallel()
	anchors := []automation.AnchorEvent{{ID: "m1", StartsAt: at(15, 0)}}
	r := eventRule(0, true)
	r.Spec.Span = 90 * time.Minute

	if got, _ := Evaluate(at(16, 0), r, anchors); len(got) != 1 {
		t.Fatal("instant inside span should fire")
	}
	if got, _ := Evaluate(at(16, 31), r, anchors); len(got) != 0 {
		t.Fatal("instant after span should not fire")
	}
	if got, _ := Evaluate(at(14, 59), r, anchors); len(got) != 0 {
		t.Fatal("instant before anchor should not fire")
	}
}

func TestEventRelativeNoAnchors(t *testing.T) {
	t.Parallel()
	r := eventRule(-30, false)
	got, err := Evaluate(at(12, 0), r, nil)
	if err != nil {
		t.Fatalf("zero anchors must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("zero anchors produced %d firings", len(got))
	}
}

func TestEventRelativeTopK(t *testing.T) {
	t.Parallel()
	var anchors []automation.AnchorEvent
	for _, id := range []string{"a", "b", "c", "d"} {
		anchors = append(anchors, automation.AnchorEvent{ID: id, StartsAt: at(18, 0)})
	}
	r := eventRule(0, false)
	r.Spec.TopK = 2
	got, err := Evaluate(at(18, 0), r, anchors)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("firings = %d, want top_k=2", len(got))
	}
}

func TestValidateRejectsMalformedSpecs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rule automation.Rule
	}{
		{name: "no targets", rule: automation.Rule{ID: "x", Enabled: true, Cadence: automation.CadenceFixedTime}},
		{name: "bad hhmm", rule: fixedRule("25:00")},
		{
			name: "bad hours",
			rule: automation.Rule{ID: "x", Enabled: true, Cadence: automation.CadencePeriodicSlot,
				Spec: automation.CadenceSpec{ActiveFrom: 24, ActiveTo: 2}},
		},
		{
			name: "empty slot",
			rule: automation.Rule{ID: "x", Enabled: true, Cadence: automation.CadencePeriodicSlot,
				Spec: automation.CadenceSpec{ActiveFrom: 8, ActiveTo: 20, SlotFrom: 10, SlotTo: 5}},
		},
		{
			name: "bad parity",
			rule: automation.Rule{ID: "x", Enabled: true, Cadence: automation.CadenceContextWindow,
				Spec: automation.CadenceSpec{ActiveFrom: 8, ActiveTo: 20, SlotTo: 5, Parity: "weekly"}},
		},
		{name: "unknown cadence", rule: automation.Rule{ID: "x", Enabled: true, Cadence: "lunar"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.rule); err == nil {
				t.Fatal("expected validation error")
			}
			if _, err := Evaluate(at(9, 0), tt.rule, nil); err == nil {
				t.Fatal("Evaluate must refuse a malformed spec")
			}
		})
	}
}

func TestFixedTimeWindowAcrossMidnight(t *testing.T) {
	t.Parallel()
	early := fixedRule("00:02")
	if got, _ := Evaluate(at(23, 58), early, nil); len(got) != 1 {
		t.Fatal("23:58 must match a 00:02 target on the following day")
	}
	if got, _ := Evaluate(at(23, 50), early, nil); len(got) != 0 {
		t.Fatal("23:50 is outside the 00:02 window")
	}

	late := fixedRule("23:58")
	if got, _ := Evaluate(at(0, 1), late, nil); len(got) != 1 {
		t.Fatal("00:01 must match a 23:58 target on the previous day")
	}
}
