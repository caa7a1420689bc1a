package storage

import (
	"errors"
	"strings"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

// Store is the persistence API consumed by the engine. The execution-log part
// is the single piece of shared mutable state across engine instances; rules
// and channels are read-only from here.
type Store interface {
	automation.RuleSource
	automation.ChannelDirectory
	automation.ExecutionLog
	automation.ApprovalSink
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
