package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
telegram:
  token: "123:abc"
storage:
  driver: sqlite
  path: ./postpilot.db
engine:
  enabled: true
  tick_interval: 30s
  rule_workers: 8
  retention:
    max_age: 168h
    failed_max_age: 24h
openai:
  api_key: sk-test
feed:
  base_url: https://fixtures.example.com
ops:
  enabled: true
  addr: 127.0.0.1:8900
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging mismatch: %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./postpilot.db" {
		t.Fatalf("storage mismatch: %+v", cfg.Storage)
	}
	if !cfg.Engine.Enabled || cfg.Engine.TickInterval != "30s" || cfg.Engine.RuleWorkers != 8 {
		t.Fatalf("engine mismatch: %+v", cfg.Engine)
	}
	if cfg.Engine.Retention.MaxAge != "168h" {
		t.Fatalf("retention mismatch: %+v", cfg.Engine.Retention)
	}
	if !cfg.Ops.Enabled || cfg.Ops.Addr != "127.0.0.1:8900" {
		t.Fatalf("ops mismatch: %+v", cfg.Ops)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"logging":{"level":"INFO","console":true,"file":{"enabled":false,"path":""}},
		  "telegram":{"token":"t"},
		  "storage":{"driver":"memory"},
		  "engine":{"enabled":false},
		  "openai":{"api_key":"k"},
		  "feed":{"base_url":"http://127.0.0.1:9000"}}`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Engine.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: INFO
scheduler:
  enabled: true
`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"empty is zero", "", 0, false},
		{"simple", "30s", 30 * time.Second, false},
		{"compound", "1h30m", 90 * time.Minute, false},
		{"garbage", "soon", 0, true},
		{"negative", "-5s", 0, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("test.field", tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Engine: EngineConfig{Enabled: true, TickInterval: "1m"}}
	newCfg := &Config{Engine: EngineConfig{Enabled: true, TickInterval: "30s"}}

	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) != 1 || sections[0] != "engine" {
		t.Fatalf("want [engine], got %v", sections)
	}

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("identical configs must yield no sections, got %v", sections)
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("config.yaml")
	sub := m.Subscribe(1)

	first := &Config{Engine: EngineConfig{TickInterval: "1m"}}
	second := &Config{Engine: EngineConfig{TickInterval: "30s"}}
	m.publish(first)
	m.publish(second)

	if got := <-sub; got != second {
		t.Fatalf("slow subscriber must see the newest config, got %+v", got.Engine)
	}
	if len(sub) != 0 {
		t.Fatal("older queued update must have been dropped")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("unsubscribe must close the channel")
	}
}
