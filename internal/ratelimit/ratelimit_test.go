package ratelimit

import (
	"testing"
	"time"

	"postpilot/internal/automation"
)

func channel(id string, perHour int) automation.Channel {
	return automation.Channel{ID: id, Active: true, AutoPost: true, RatePerHour: perHour}
}

func TestAllowWithinBurst(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHour: 4, Burst: 1})

	d := l.Allow("daily_digest", channel("c1", 0))
	if !d.Allowed {
		t.Fatalf("first send must be allowed, got %+v", d)
	}

	d = l.Allow("daily_digest", channel("c1", 0))
	if d.Allowed {
		t.Fatal("second immediate send must be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denial must carry a wait hint, got %v", d.RetryAfter)
	}
	if d.Reason == "" {
		t.Fatal("denial must carry a reason")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHour: 4, Burst: 1})

	if d := l.Allow("daily_digest", channel("c1", 0)); !d.Allowed {
		t.Fatal("c1 first send must be allowed")
	}
	// Other channel and other content type have their own budgets.
	if d := l.Allow("daily_digest", channel("c2", 0)); !d.Allowed {
		t.Fatal("c2 must have its own budget")
	}
	if d := l.Allow("match_preview", channel("c1", 0)); !d.Allowed {
		t.Fatal("another content type must have its own budget")
	}
}

func TestChannelOverride(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHour: 1, Burst: 1})
	vip := channel("vip", 7200)

	if d := l.Allow("daily_digest", vip); !d.Allowed {
		t.Fatal("override channel first send must be allowed")
	}
	d := l.Allow("daily_digest", vip)
	if d.Allowed {
		t.Fatal("burst spent; second immediate send must be denied")
	}
	// 7200/h refills in about half a second, far sooner than the 1/h default.
	if d.RetryAfter > time.Second {
		t.Fatalf("override budget must shorten the wait, got %v", d.RetryAfter)
	}
}

func TestOverrideChangeRebuildsBucket(t *testing.T) {
	t.Parallel()
	l := New(Config{PerHour: 1, Burst: 1})

	if d := l.Allow("daily_digest", channel("c1", 1)); !d.Allowed {
		t.Fatal("first send must be allowed")
	}
	// Raising the channel budget takes effect on the next call.
	if d := l.Allow("daily_digest", channel("c1", 7200)); !d.Allowed {
		t.Fatal("budget raise must rebuild the bucket and allow the send")
	}
}
