package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", env(nil))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.HTTP.Addr != ":8080" || !cfg.HTTP.Events {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Conductor.StaleAgentTimeout != 60*time.Second || cfg.Conductor.DefaultMaxRetries != 3 {
		t.Errorf("conductor defaults = %+v", cfg.Conductor)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
store:
  driver: sqlite
  dsn: /tmp/conductor.db
http:
  addr: ":9090"
redis:
  addr: localhost:6379
  codec: msgpack
conductor:
  stale_agent_timeout: 2m
  sweep_schedule: "@every 15s"
  default_max_retries: 5
`)
	cfg, err := loadConfig(path, env(nil))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "/tmp/conductor.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Conductor.StaleAgentTimeout != 2*time.Minute {
		t.Errorf("stale timeout = %v", cfg.Conductor.StaleAgentTimeout)
	}
	if cfg.Conductor.SweepInterval != 30*time.Second {
		t.Errorf("unset fields should keep defaults, sweep interval = %v", cfg.Conductor.SweepInterval)
	}
	if cfg.Conductor.DefaultMaxRetries != 5 || cfg.Conductor.SweepSchedule != "@every 15s" {
		t.Errorf("conductor = %+v", cfg.Conductor)
	}
	if cfg.Redis.Codec != "msgpack" || cfg.Redis.Prefix != "conductor" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":9090\"\n")
	cfg, err := loadConfig(path, env(map[string]string{
		"CONDUCTOR_HTTP_ADDR":           ":7070",
		"CONDUCTOR_STORE_DRIVER":        "postgres",
		"CONDUCTOR_STORE_DSN":           "postgres://localhost/conductor",
		"CONDUCTOR_STALE_AGENT_TIMEOUT": "90s",
		"CONDUCTOR_DEFAULT_MAX_RETRIES": "0",
	}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" || cfg.Store.Driver != "postgres" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Conductor.StaleAgentTimeout != 90*time.Second || cfg.Conductor.DefaultMaxRetries != 0 {
		t.Errorf("conductor = %+v", cfg.Conductor)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{name: "unknown driver", file: "store:\n  driver: oracle\n", want: "unknown store driver"},
		{name: "missing dsn", file: "store:\n  driver: postgres\n", want: "store.dsn is required"},
		{name: "negative retries", file: "conductor:\n  default_max_retries: -1\n", want: "default_max_retries must be between"},
		{name: "retries over limit", file: "conductor:\n  default_max_retries: 31\n", want: "default_max_retries must be between"},
		{name: "bad env duration", env: map[string]string{"CONDUCTOR_SWEEP_INTERVAL": "often"}, want: "CONDUCTOR_SWEEP_INTERVAL"},
		{name: "bad yaml", file: "store: [", want: "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := loadConfig(path, env(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(logConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" {
		t.Errorf("msg = %v", rec["msg"])
	}

	if _, err := newLogger(logConfig{Level: "loud"}, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger(logConfig{Level: "info", Format: "xml"}, &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}
