package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  shutdown_seconds: 5
auth:
  enabled: true
  api_key: secret
crawl:
  concurrency: 6
  user_agent: prowl-test
  max_depth_default: 5
  max_pages_default: 50
fetch:
  timeout_seconds: 45
  nav_timeout_seconds: 30
  settle_delay_ms: 250
  stealth_per_minute: 6
gate:
  max_concurrent: 2
  wait_timeout_seconds: 60
store:
  provider: postgres
  postgres_dsn: postgres://prowl@localhost/prowl
blob:
  provider: gcs
  gcs_bucket: snapshots
  prefix: pages
events:
  provider: memory
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawl.Concurrency != 6 || cfg.Crawl.UserAgent != "prowl-test" {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.Store.Provider != "postgres" || cfg.Store.PostgresDSN == "" {
		t.Fatalf("expected postgres store config: %+v", cfg.Store)
	}
	if cfg.Blob.Provider != "gcs" || cfg.Blob.GCSBucket != "snapshots" {
		t.Fatalf("expected gcs blob config: %+v", cfg.Blob)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.NavTimeout(); got != 30*time.Second {
		t.Fatalf("expected nav timeout 30s, got %v", got)
	}
	if got := cfg.SettleDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected settle delay 250ms, got %v", got)
	}
	if got := cfg.GateWaitTimeout(); got != 60*time.Second {
		t.Fatalf("expected gate wait 60s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Provider != "badger" {
		t.Fatalf("expected badger default store, got %q", cfg.Store.Provider)
	}
	if cfg.Gate.MaxConcurrent != 3 {
		t.Fatalf("expected default gate capacity 3, got %d", cfg.Gate.MaxConcurrent)
	}
	if cfg.Blob.Provider != "none" || cfg.Events.Provider != "none" {
		t.Fatalf("expected blob and events disabled by default: %+v %+v", cfg.Blob, cfg.Events)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawl:  CrawlConfig{Concurrency: 1},
		Fetch:  FetchConfig{TimeoutSeconds: 10},
		Gate:   GateConfig{MaxConcurrent: 3},
		Store:  StoreConfig{Provider: "memory"},
		Blob:   BlobConfig{Provider: "none"},
		Events: EventsConfig{Provider: "none"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Crawl.Concurrency = 0
				return c
			}(),
			want: "crawl.concurrency",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Fetch.TimeoutSeconds = 0
				return c
			}(),
			want: "fetch.timeout_seconds",
		},
		{
			name: "invalid gate capacity",
			cfg: func() Config {
				c := base
				c.Gate.MaxConcurrent = 0
				return c
			}(),
			want: "gate.max_concurrent",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "unknown store provider",
			cfg: func() Config {
				c := base
				c.Store.Provider = "etcd"
				return c
			}(),
			want: "store.provider",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Store.Provider = "postgres"
				return c
			}(),
			want: "store.postgres_dsn",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Blob.Provider = "gcs"
				return c
			}(),
			want: "blob.gcs_bucket",
		},
		{
			name: "pubsub without project",
			cfg: func() Config {
				c := base
				c.Events.Provider = "pubsub"
				return c
			}(),
			want: "events.project_id",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
