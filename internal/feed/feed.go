// Package feed fetches ranked anchor events (upcoming fixtures) from the
// sports-data API the dashboard is configured against.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

// Config controls the fixtures client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one fetch. Zero means 5s.
	Timeout time.Duration
	// CacheTTL keeps one tick's rules on a shared fetch. Zero means 60s.
	CacheTTL time.Duration
}

// Client implements automation.AnchorEventSource over an HTTP fixtures feed.
// The most recent fetch is cached for a short TTL, keyed on its exact
// [from, to] window, so every event-relative rule in a tick shares one
// upstream call. Callers with a different window always hit upstream.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu         sync.Mutex
	cached     []automation.AnchorEvent
	cachedFrom time.Time
	cachedTo   time.Time
	fetchedAt  time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type fixtureRow struct {
	ID          string    `json:"id"`
	StartsAt    time.Time `json:"starts_at"`
	Importance  float64   `json:"importance"`
	Home        string    `json:"home"`
	Away        string    `json:"away"`
	Competition string    `json:"competition"`
}

func (c *Client) TopEvents(ctx context.Context, contentType automation.ContentType, from, to time.Time, limit int) ([]automation.AnchorEvent, error) {
	all, err := c.fetch(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var out []automation.AnchorEvent
	for _, ev := range all {
		if ev.StartsAt.Before(from) || ev.StartsAt.After(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, from, to time.Time) ([]automation.AnchorEvent, error) {
	c.mu.Lock()
	if c.cached != nil && from.Equal(c.cachedFrom) && to.Equal(c.cachedTo) &&
		time.Since(c.fetchedAt) < c.cfg.CacheTTL {
		cached := c.cached
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	u, err := url.Parse(c.cfg.BaseURL + "/fixtures")
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	q := u.Query()
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fixtures fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fixtures fetch: http %d", resp.StatusCode)
	}

	var rows []fixtureRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("fixtures decode: %w", err)
	}

	events := make([]automation.AnchorEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, automation.AnchorEvent{
			ID:          r.ID,
			StartsAt:    r.StartsAt,
			Importance:  r.Importance,
			Home:        r.Home,
			Away:        r.Away,
			Competition: r.Competition,
		})
	}

	c.mu.Lock()
	c.cached = events
	c.cachedFrom = from
	c.cachedTo = to
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Debug("fixtures fetched", logx.Int("count", len(events)))
	return events, nil
}
