package config

// Config is the full on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Feed     FeedConfig     `json:"feed"`

	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

// StorageConfig selects the execution-log backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postpilot.db" }
type StorageConfig struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver string `json:"driver"`
	// Path is the sqlite database file.
	Path string `json:"path,omitempty"`
	// DSN is the postgres connection string.
	DSN string `json:"dsn,omitempty"`
	// BusyTimeout is a Go duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the rule evaluation loop.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1m"
//   - rule_workers: 4
//   - channel_workers: 5
//   - cooldown: "30m"
//   - call_timeout: "10s"
//   - anchor_lookbehind: "4h"
//   - anchor_lookahead: "24h"
type EngineConfig struct {
	Enabled        bool   `json:"enabled"`
	TickInterval   string `json:"tick_interval,omitempty"`
	RuleWorkers    int    `json:"rule_workers,omitempty"`
	ChannelWorkers int    `json:"channel_workers,omitempty"`
	Cooldown       string `json:"cooldown,omitempty"`
	CallTimeout    string `json:"call_timeout,omitempty"`

	AnchorLookbehind string `json:"anchor_lookbehind,omitempty"`
	AnchorLookahead  string `json:"anchor_lookahead,omitempty"`

	Retention RetentionConfig `json:"retention,omitempty"`
}

// RetentionConfig controls execution-record pruning.
// Defaults: interval "1h", max_age "168h", failed_max_age "24h".
type RetentionConfig struct {
	Interval     string `json:"interval,omitempty"`
	MaxAge       string `json:"max_age,omitempty"`
	FailedMaxAge string `json:"failed_max_age,omitempty"`
}

type OpenAIConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

// FeedConfig points at the fixtures API used for event-relative rules.
type FeedConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	// CacheTTL bounds how long a fixture fetch is reused across ticks.
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// RateLimitConfig sets the default per-channel automated-send budget.
// Channels may override their own rate.
type RateLimitConfig struct {
	DefaultPerHour int `json:"default_per_hour,omitempty"`
	Burst          int `json:"burst,omitempty"`
}

// OpsConfig controls the operational HTTP server (health, stats, metrics).
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:8900").
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8900"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
