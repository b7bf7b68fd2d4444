package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LISTEN_ADDR", "SERVER_NAME", "FRONTEND_URL", "DATABASE_URL", "REDIS_ADDR", "NATS_URL", "GEOIP_DB",
		"WORKER_POOL_SIZE", "MAX_CONNECTIONS", "READ_TIMEOUT", "WRITE_TIMEOUT",
		"HEARTBEAT_INTERVAL", "STORE_TIMEOUT", "BAN_CLEANUP_INTERVAL",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}

	missing, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load(missing) error: %v", err)
	}
	if missing != Default() {
		t.Error("missing file changed the defaults")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  listen_addr: ":9000"
  name: ws-7
  frontend_url: https://chat.example.com
  worker_pool_size: 32
  read_timeout: 5s
storage:
  redis_addr: redis:6379
  store_timeout: 750ms
nats:
  url: nats://nats:4222
moderation:
  ban_cleanup_interval: 10m
`)
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":9100")
	t.Setenv("MAX_CONNECTIONS", "500")
	t.Setenv("WRITE_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %q, env should win", cfg.ListenAddr)
	}
	if cfg.ServerName != "ws-7" || cfg.WorkerPoolSize != 32 || cfg.RedisAddr != "redis:6379" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.FrontendURL != "https://chat.example.com" {
		t.Errorf("FrontendURL = %q", cfg.FrontendURL)
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if cfg.MaxConnections != 500 || cfg.WriteTimeout != 2*time.Second {
		t.Errorf("env values not applied: %+v", cfg)
	}
	if cfg.ReadTimeout != 5*time.Second || cfg.StoreTimeout != 750*time.Millisecond || cfg.BanCleanupInterval != 10*time.Minute {
		t.Errorf("durations = %s %s %s", cfg.ReadTimeout, cfg.StoreTimeout, cfg.BanCleanupInterval)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{"bad yaml", "server: [", nil, "parse"},
		{"bad file duration", "storage:\n  store_timeout: soon\n", nil, "storage.store_timeout"},
		{"bad env int", "", map[string]string{"WORKER_POOL_SIZE": "many"}, "WORKER_POOL_SIZE"},
		{"bad env duration", "", map[string]string{"READ_TIMEOUT": "10"}, "READ_TIMEOUT"},
		{"zero workers", "", map[string]string{"WORKER_POOL_SIZE": "0"}, "worker pool"},
		{"zero store timeout", "", map[string]string{"STORE_TIMEOUT": "0s"}, "store timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
