package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TryClaim is a single conditional upsert: the insert wins outright, and the
// update path only succeeds when the existing claim has expired. RowsAffected
// therefore tells us whether this caller owns the window.
func (s *sqliteStore) TryClaim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if key == "" {
		return false, errors.New("empty dedup key")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO claims(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until
		 WHERE claims.until <= ?`,
		key, now.Add(window).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpiredClaims(pctx)
		cancel()
	}
	return n > 0, nil
}

func (s *sqliteStore) pruneExpiredClaims(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) Record(ctx context.Context, rec automation.ExecutionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, rule_id, channel_id, anchor_id, fired_at, outcome, duration_ms, message_id, fallback, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.RuleID, rec.ChannelID, nullStr(rec.AnchorID),
		rec.FiredAt.UnixMilli(), string(rec.Outcome), rec.Duration.Milliseconds(),
		nullStr(rec.MessageID), boolInt(rec.Fallback), nullStr(rec.Error),
	)
	return err
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan, failedOlderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions
		 WHERE fired_at < ?
		    OR (outcome NOT IN (?, ?) AND fired_at < ?)`,
		olderThan.UnixMilli(),
		string(automation.OutcomeSent), string(automation.OutcomePendingApproval),
		failedOlderThan.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	// Claims have their own horizon (the dedup window), prune alongside.
	_ = s.pruneExpiredClaims(ctx)
	return n, nil
}

func (s *sqliteStore) ListEnabledRules(ctx context.Context) ([]automation.Rule, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cadence, content_type, channel_tags, require_approval, cooldown_ms, spec
		 FROM rules WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.Rule
	for rows.Next() {
		var (
			r          automation.Rule
			tags, spec string
			approval   int
			cooldownMS int64
		)
		if err := rows.Scan(&r.ID, &r.Name, (*string)(&r.Cadence), (*string)(&r.ContentType), &tags, &approval, &cooldownMS, &spec); err != nil {
			return nil, err
		}
		r.Enabled = true
		r.ChannelTags = decodeTags(tags)
		r.RequireApproval = approval != 0
		r.Cooldown = time.Duration(cooldownMS) * time.Millisecond
		r.Spec, err = decodeSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %s: decoding spec: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ActiveChannels(ctx context.Context, rule automation.Rule) ([]automation.Channel, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, language, active, auto_post, tags, chat_id, rate_per_hour
		 FROM channels WHERE active = 1 AND auto_post = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.Channel
	for rows.Next() {
		var (
			ch               automation.Channel
			active, autoPost int
			tags             string
		)
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Language, &active, &autoPost, &tags, &ch.ChatID, &ch.RatePerHour); err != nil {
			return nil, err
		}
		ch.Active = active != 0
		ch.AutoPost = autoPost != 0
		ch.Tags = decodeTags(tags)
		if channelMatches(rule, ch) {
			out = append(out, ch)
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreatePending(ctx context.Context, rule automation.Rule, ch automation.Channel, content automation.Content) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_approvals(id, rule_id, channel_id, content_type, language, body, status, created_at)
		 VALUES(?,?,?,?,?,?, 'pending', ?)`,
		newID(), rule.ID, ch.ID, string(content.Type), content.Language, content.Text,
		time.Now().UnixMilli(),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
