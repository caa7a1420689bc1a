package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

// postgresStore shares one database between the dashboard and any number of
// engine instances. The claims upsert carries the cross-process dedup
// guarantee. Schema is managed by cmd/migrate.
type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error { return s.db.Close() }

func (s *postgresStore) TryClaim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("empty dedup key")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO claims(key, until) VALUES($1,$2)
		 ON CONFLICT (key) DO UPDATE SET until = EXCLUDED.until
		 WHERE claims.until <= $3`,
		key, now.Add(window).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) Record(ctx context.Context, rec automation.ExecutionRecord) error {
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, rule_id, channel_id, anchor_id, fired_at, outcome, duration_ms, message_id, fallback, err)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.RuleID, rec.ChannelID, nullStr(rec.AnchorID),
		rec.FiredAt.UnixMilli(), string(rec.Outcome), rec.Duration.Milliseconds(),
		nullStr(rec.MessageID), rec.Fallback, nullStr(rec.Error),
	)
	return err
}

func (s *postgresStore) Prune(ctx context.Context, olderThan, failedOlderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions
		 WHERE fired_at < $1
		    OR (outcome NOT IN ($2, $3) AND fired_at < $4)`,
		olderThan.UnixMilli(),
		string(automation.OutcomeSent), string(automation.OutcomePendingApproval),
		failedOlderThan.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	_, _ = s.db.ExecContext(ctx, `DELETE FROM claims WHERE until < $1`, time.Now().UnixMilli())
	return n, nil
}

func (s *postgresStore) ListEnabledRules(ctx context.Context) ([]automation.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cadence, content_type, channel_tags, require_approval, cooldown_ms, spec
		 FROM rules WHERE enabled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.Rule
	for rows.Next() {
		var (
			r          automation.Rule
			tags, spec string
			cooldownMS int64
		)
		if err := rows.Scan(&r.ID, &r.Name, (*string)(&r.Cadence), (*string)(&r.ContentType), &tags, &r.RequireApproval, &cooldownMS, &spec); err != nil {
			return nil, err
		}
		r.Enabled = true
		r.ChannelTags = decodeTags(tags)
		r.Cooldown = time.Duration(cooldownMS) * time.Millisecond
		r.Spec, err = decodeSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %s: decoding spec: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) ActiveChannels(ctx context.Context, rule automation.Rule) ([]automation.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, language, active, auto_post, tags, chat_id, rate_per_hour
		 FROM channels WHERE active AND auto_post`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.Channel
	for rows.Next() {
		var (
			ch   automation.Channel
			tags string
		)
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Language, &ch.Active, &ch.AutoPost, &tags, &ch.ChatID, &ch.RatePerHour); err != nil {
			return nil, err
		}
		ch.Tags = decodeTags(tags)
		if channelMatches(rule, ch) {
			out = append(out, ch)
		}
	}
	return out, rows.Err()
}

func (s *postgresStore) CreatePending(ctx context.Context, rule automation.Rule, ch automation.Channel, content automation.Content) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_approvals(id, rule_id, channel_id, content_type, language, body, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,'pending',$7)`,
		newID(), rule.ID, ch.ID, string(content.Type), content.Language, content.Text,
		time.Now().UnixMilli(),
	)
	return err
}
