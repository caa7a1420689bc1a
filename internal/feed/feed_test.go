package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "postpilot/pkg/logx"
)

func TestTopEventsRankedAndBounded(t *testing.T) {
	t.Parallel()
	now := time.Now().Truncate(time.Second)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/fixtures", r.URL.Path)
		rows := []fixtureRow{
			{ID: "low", StartsAt: now.Add(time.Hour), Importance: 1},
			{ID: "high", StartsAt: now.Add(2 * time.Hour), Importance: 9},
			{ID: "mid", StartsAt: now.Add(3 * time.Hour), Importance: 5},
			{ID: "outside", StartsAt: now.Add(48 * time.Hour), Importance: 10},
		}
		require.NoError(t, json.NewEncoder(w).Encode(rows))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	got, err := c.TopEvents(context.Background(), "match_preview", now, now.Add(24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "high", got[0].ID, "importance ranking")
	require.Equal(t, "mid", got[1].ID)

	// Second query inside the TTL reuses the cached fetch.
	_, err = c.TopEvents(context.Background(), "match_preview", now, now.Add(24*time.Hour), 2)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchErrorPropagates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	_, err := c.TopEvents(context.Background(), "match_preview", time.Now(), time.Now().Add(time.Hour), 5)
	require.Error(t, err)
}

func TestCacheKeyedOnWindow(t *testing.T) {
	t.Parallel()
	now := time.Now().Truncate(time.Second)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rows := []fixtureRow{{ID: "f1", StartsAt: now.Add(time.Hour), Importance: 1}}
		require.NoError(t, json.NewEncoder(w).Encode(rows))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	ctx := context.Background()

	_, err := c.TopEvents(ctx, "match_preview", now, now.Add(6*time.Hour), 5)
	require.NoError(t, err)
	_, err = c.TopEvents(ctx, "match_preview", now, now.Add(6*time.Hour), 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	// A different window is never served from the cache.
	_, err = c.TopEvents(ctx, "match_preview", now.Add(time.Minute), now.Add(6*time.Hour), 5)
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}
