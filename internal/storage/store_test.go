package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

func openTestSQLite(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteTryClaimSingleWinner(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "claims.db"))
	ctx := context.Background()

	ok, err := st.TryClaim(ctx, "rule-1", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "first claim must win")

	ok, err = st.TryClaim(ctx, "rule-1", 30*time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second claim inside the window must lose")

	// Different key is independent.
	ok, err = st.TryClaim(ctx, "rule-1@match-9", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSQLiteTryClaimConcurrent(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "claims.db"))

	const attempts = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			ok, err := st.TryClaim(context.Background(), "hot-key", time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins, "exactly one concurrent claim may win")
}

func TestSQLiteClaimExpiryAllowsRetake(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "claims.db"))
	ctx := context.Background()

	ok, err := st.TryClaim(ctx, "short", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	ok, err = st.TryClaim(ctx, "short", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "expired claim must be retakeable")
}

func TestSQLiteClaimSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "claims.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	ok, err := st.TryClaim(ctx, "daily-digest", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.Close())

	// Simulated process restart: the claim must still hold.
	st2 := openTestSQLite(t, path)
	ok, err = st2.TryClaim(ctx, "daily-digest", time.Hour)
	require.NoError(t, err)
	require.False(t, ok, "claim must survive a restart")
}

func TestSQLiteRulesAndChannelsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "data.db"))
	ctx := context.Background()

	sq := st.(*sqliteStore)
	spec, err := encodeSpec(automation.CadenceSpec{Times: []string{"09:00", "18:30"}})
	require.NoError(t, err)
	_, err = sq.db.ExecContext(ctx,
		`INSERT INTO rules(id, name, enabled, cadence, content_type, channel_tags, require_approval, cooldown_ms, spec)
		 VALUES('r1','morning digest',1,'fixed_time','daily_digest',?,0,1800000,?)`,
		encodeTags([]string{"football"}), spec)
	require.NoError(t, err)
	_, err = sq.db.ExecContext(ctx,
		`INSERT INTO rules(id, name, enabled, cadence, content_type, channel_tags, require_approval, cooldown_ms, spec)
		 VALUES('r2','disabled',0,'fixed_time','daily_digest','[]',0,0,'{}')`)
	require.NoError(t, err)
	_, err = sq.db.ExecContext(ctx,
		`INSERT INTO channels(id, title, language, active, auto_post, tags, chat_id, rate_per_hour)
		 VALUES('c1','Main',    'en',1,1,'["football"]',100,4),
		       ('c2','OptedOut','en',1,0,'["football"]',101,4),
		       ('c3','OtherTag','de',1,1,'["tennis"]',  102,4)`)
	require.NoError(t, err)

	rules, err := st.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1, "disabled rules must not be listed")
	require.Equal(t, "r1", rules[0].ID)
	require.Equal(t, []string{"09:00", "18:30"}, rules[0].Spec.Times)
	require.Equal(t, 30*time.Minute, rules[0].Cooldown)

	chs, err := st.ActiveChannels(ctx, rules[0])
	require.NoError(t, err)
	require.Len(t, chs, 1, "tag selector and opt-in must both apply")
	require.Equal(t, "c1", chs[0].ID)
}

func recAge(outcome automation.Outcome, age time.Duration) automation.ExecutionRecord {
	return automation.ExecutionRecord{
		ID:        newID(),
		RuleID:    "r1",
		ChannelID: "c1",
		FiredAt:   time.Now().Add(-age),
		Outcome:   outcome,
	}
}

func TestPruneHorizons(t *testing.T) {
	t.Parallel()
	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": openTestSQLite(t, filepath.Join(t.TempDir(), "prune.db")),
	}
	for name, st := range stores {
		st := st
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			oldSent := recAge(automation.OutcomeSent, 10*24*time.Hour)
			staleFail := recAge(automation.OutcomeSendFailed, 30*time.Hour)
			freshFail := recAge(automation.OutcomeSendFailed, 2*time.Hour)
			freshSent := recAge(automation.OutcomeSent, 2*24*time.Hour)
			for _, rec := range []automation.ExecutionRecord{oldSent, staleFail, freshFail, freshSent} {
				require.NoError(t, st.Record(ctx, rec))
			}

			now := time.Now()
			removed, err := st.Prune(ctx, now.Add(-7*24*time.Hour), now.Add(-24*time.Hour))
			require.NoError(t, err)
			require.EqualValues(t, 2, removed)
		})
	}
}

func TestMemoryClaimFailureInjection(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.FailClaims = true
	_, err := m.TryClaim(context.Background(), "k", time.Minute)
	require.Error(t, err)
}
