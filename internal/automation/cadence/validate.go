package cadence

import (
	"fmt"
	"strconv"
	"strings"

	"postpilot/internal/automation"
)

// Validate checks the cadence-specific spec of a rule. A rule that fails
// validation never fires; the engine surfaces the error through its stats
// snapshot instead of aborting the tick.
func Validate(r automation.Rule) error {
	switch r.Cadence {
	case automation.CadenceFixedTime:
		if len(r.Spec.Times) == 0 {
			return fmt.Errorf("rule %s: fixed_time needs at least one HH:MM target", r.ID)
		}
		for _, raw := range r.Spec.Times {
			if _, _, err := parseHHMM(raw); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
	case automation.CadencePeriodicSlot, automation.CadenceContextWindow:
		if err := checkHour(r.Spec.ActiveFrom); err != nil {
			return fmt.Errorf("rule %s: active_from: %w", r.ID, err)
		}
		if err := checkHour(r.Spec.ActiveTo); err != nil {
			return fmt.Errorf("rule %s: active_to: %w", r.ID, err)
		}
		if err := checkMinute(r.Spec.SlotFrom); err != nil {
			return fmt.Errorf("rule %s: slot_from: %w", r.ID, err)
		}
		if err := checkMinute(r.Spec.SlotTo); err != nil {
			return fmt.Errorf("rule %s: slot_to: %w", r.ID, err)
		}
		if r.Spec.SlotFrom > r.Spec.SlotTo {
			return fmt.Errorf("rule %s: empty minute slot %d..%d", r.ID, r.Spec.SlotFrom, r.Spec.SlotTo)
		}
		if r.Cadence == automation.CadenceContextWindow {
			switch r.Spec.Parity {
			case automation.ParityAny, automation.ParityEven, automation.ParityOdd:
			default:
				return fmt.Errorf("rule %s: invalid hour parity %q", r.ID, r.Spec.Parity)
			}
		}
	case automation.CadenceEventRelative:
		if r.Spec.OffsetMinutes < -24*60 || r.Spec.OffsetMinutes > 24*60 {
			return fmt.Errorf("rule %s: anchor offset %dm out of range", r.ID, r.Spec.OffsetMinutes)
		}
		if r.Spec.TopK < 0 {
			return fmt.Errorf("rule %s: negative top_k", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown cadence %q", r.ID, r.Cadence)
	}
	return nil
}

func checkHour(h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("hour %d out of range", h)
	}
	return nil
}

func checkMinute(m int) error {
	if m < 0 || m > 59 {
		return fmt.Errorf("minute %d out of range", m)
	}
	return nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
