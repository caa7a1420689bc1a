package storage

import (
	"encoding/json"
	"time"

	"postpilot/internal/automation"
)

// specRow is the schema-stable JSON form of a cadence spec. The dashboard
// writes it; keep field names fixed.
type specRow struct {
	Times          []string `json:"times,omitempty"`
	MatchWindowSec int      `json:"match_window_sec,omitempty"`
	ActiveFrom     int      `json:"active_from"`
	ActiveTo       int      `json:"active_to"`
	SlotFrom       int      `json:"slot_from"`
	SlotTo         int      `json:"slot_to"`
	Parity         string   `json:"parity,omitempty"`
	OffsetMinutes  int      `json:"offset_minutes,omitempty"`
	Continuous     bool     `json:"continuous,omitempty"`
	SpanMinutes    int      `json:"span_minutes,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
}

func decodeSpec(raw string) (automation.CadenceSpec, error) {
	var r specRow
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return automation.CadenceSpec{}, err
		}
	}
	return automation.CadenceSpec{
		Times:         r.Times,
		MatchWindow:   time.Duration(r.MatchWindowSec) * time.Second,
		ActiveFrom:    r.ActiveFrom,
		ActiveTo:      r.ActiveTo,
		SlotFrom:      r.SlotFrom,
		SlotTo:        r.SlotTo,
		Parity:        automation.HourParity(r.Parity),
		OffsetMinutes: r.OffsetMinutes,
		Continuous:    r.Continuous,
		Span:          time.Duration(r.SpanMinutes) * time.Minute,
		TopK:          r.TopK,
	}, nil
}

func encodeSpec(s automation.CadenceSpec) (string, error) {
	r := specRow{
		Times:          s.Times,
		MatchWindowSec: int(s.MatchWindow / time.Second),
		ActiveFrom:     s.ActiveFrom,
		ActiveTo:       s.ActiveTo,
		SlotFrom:       s.SlotFrom,
		SlotTo:         s.SlotTo,
		Parity:         string(s.Parity),
		OffsetMinutes:  s.OffsetMinutes,
		Continuous:     s.Continuous,
		SpanMinutes:    int(s.Span / time.Minute),
		TopK:           s.TopK,
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// channelMatches applies the rule's tag selector. An empty selector matches
// every opted-in channel.
func channelMatches(rule automation.Rule, ch automation.Channel) bool {
	if !ch.Active || !ch.AutoPost {
		return false
	}
	if len(rule.ChannelTags) == 0 {
		return true
	}
	for _, want := range rule.ChannelTags {
		for _, have := range ch.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}
