package app

import (
	"fmt"
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/engine"
	"postpilot/internal/feed"
	"postpilot/internal/ops"
	"postpilot/internal/ratelimit"
	"postpilot/internal/storage"
)

// The mapping layer translates on-disk config (duration strings, optional
// sections) into component configs. Every mapper is also the validator for
// its section, so hot-reload can reject a bad file before committing it.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}

	switch driver {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(sc.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	case "postgres":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Engine
	out := engine.Config{
		Enabled:        ec.Enabled,
		RuleWorkers:    ec.RuleWorkers,
		ChannelWorkers: ec.ChannelWorkers,
	}
	if out.RuleWorkers < 0 {
		return engine.Config{}, fmt.Errorf("engine.rule_workers must be >= 0")
	}
	if out.ChannelWorkers < 0 {
		return engine.Config{}, fmt.Errorf("engine.channel_workers must be >= 0")
	}

	var err error
	if out.TickInterval, err = config.ParseDurationField("engine.tick_interval", ec.TickInterval); err != nil {
		return engine.Config{}, err
	}
	if out.Cooldown, err = config.ParseDurationField("engine.cooldown", ec.Cooldown); err != nil {
		return engine.Config{}, err
	}
	if out.CallTimeout, err = config.ParseDurationField("engine.call_timeout", ec.CallTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.AnchorLookbehind, err = config.ParseDurationField("engine.anchor_lookbehind", ec.AnchorLookbehind); err != nil {
		return engine.Config{}, err
	}
	if out.AnchorLookahead, err = config.ParseDurationField("engine.anchor_lookahead", ec.AnchorLookahead); err != nil {
		return engine.Config{}, err
	}
	if out.Retention.Interval, err = config.ParseDurationField("engine.retention.interval", ec.Retention.Interval); err != nil {
		return engine.Config{}, err
	}
	if out.Retention.MaxAge, err = config.ParseDurationField("engine.retention.max_age", ec.Retention.MaxAge); err != nil {
		return engine.Config{}, err
	}
	if out.Retention.FailedMaxAge, err = config.ParseDurationField("engine.retention.failed_max_age", ec.Retention.FailedMaxAge); err != nil {
		return engine.Config{}, err
	}

	if err := out.Validate(); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	fc := cfg.Feed
	if strings.TrimSpace(fc.BaseURL) == "" {
		return feed.Config{}, fmt.Errorf("feed.base_url is required")
	}
	timeout, err := config.ParseDurationField("feed.timeout", fc.Timeout)
	if err != nil {
		return feed.Config{}, err
	}
	ttl, err := config.ParseDurationField("feed.cache_ttl", fc.CacheTTL)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{
		BaseURL:  strings.TrimSpace(fc.BaseURL),
		APIKey:   fc.APIKey,
		Timeout:  timeout,
		CacheTTL: ttl,
	}, nil
}

func mapLimiterConfig(cfg *config.Config) (ratelimit.Config, error) {
	rc := cfg.RateLimit
	if rc.DefaultPerHour < 0 {
		return ratelimit.Config{}, fmt.Errorf("rate_limit.default_per_hour must be >= 0")
	}
	if rc.Burst < 0 {
		return ratelimit.Config{}, fmt.Errorf("rate_limit.burst must be >= 0")
	}
	return ratelimit.Config{PerHour: rc.DefaultPerHour, Burst: rc.Burst}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationField("ops.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:      oc.Enabled,
		Addr:         strings.TrimSpace(oc.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
