// Package config loads server settings from built-in defaults, an optional
// YAML file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the effective configuration of the chat server and moderator.
type Config struct {
	ListenAddr         string
	WorkerPoolSize     int
	MaxConnections     int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	HeartbeatInterval  time.Duration
	DatabaseURL        string // empty selects in-memory stores
	RedisAddr          string // empty disables presence and rate limiting
	NATSURL            string // empty disables event publishing
	GeoIPDB            string // empty disables location lookups
	ServerName         string
	FrontendURL        string // origin allowed to call the HTTP API cross-site
	StoreTimeout       time.Duration
	BanCleanupInterval time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		WorkerPoolSize:     256,
		MaxConnections:     100000,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		ServerName:         "ws-1",
		FrontendURL:        "http://localhost:5173",
		StoreTimeout:       3 * time.Second,
		BanCleanupInterval: time.Hour,
	}
}

type configFile struct {
	Server struct {
		ListenAddr        string `yaml:"listen_addr"`
		Name              string `yaml:"name"`
		FrontendURL       string `yaml:"frontend_url"`
		WorkerPoolSize    int    `yaml:"worker_pool_size"`
		MaxConnections    int    `yaml:"max_connections"`
		ReadTimeout       string `yaml:"read_timeout"`
		WriteTimeout      string `yaml:"write_timeout"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
	} `yaml:"server"`
	Storage struct {
		DatabaseURL  string `yaml:"database_url"`
		RedisAddr    string `yaml:"redis_addr"`
		StoreTimeout string `yaml:"store_timeout"`
	} `yaml:"storage"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	GeoIP struct {
		Database string `yaml:"database"`
	} `yaml:"geoip"`
	Moderation struct {
		BanCleanupInterval string `yaml:"ban_cleanup_interval"`
	} `yaml:"moderation"`
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}

	setString(&c.ListenAddr, f.Server.ListenAddr)
	setString(&c.ServerName, f.Server.Name)
	setString(&c.FrontendURL, f.Server.FrontendURL)
	setString(&c.DatabaseURL, f.Storage.DatabaseURL)
	setString(&c.RedisAddr, f.Storage.RedisAddr)
	setString(&c.NATSURL, f.NATS.URL)
	setString(&c.GeoIPDB, f.GeoIP.Database)
	if f.Server.WorkerPoolSize > 0 {
		c.WorkerPoolSize = f.Server.WorkerPoolSize
	}
	if f.Server.MaxConnections > 0 {
		c.MaxConnections = f.Server.MaxConnections
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", f.Server.ReadTimeout, &c.ReadTimeout},
		{"server.write_timeout", f.Server.WriteTimeout, &c.WriteTimeout},
		{"server.heartbeat_interval", f.Server.HeartbeatInterval, &c.HeartbeatInterval},
		{"storage.store_timeout", f.Storage.StoreTimeout, &c.StoreTimeout},
		{"moderation.ban_cleanup_interval", f.Moderation.BanCleanupInterval, &c.BanCleanupInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.ListenAddr, os.Getenv("LISTEN_ADDR"))
	setString(&c.ServerName, os.Getenv("SERVER_NAME"))
	setString(&c.FrontendURL, os.Getenv("FRONTEND_URL"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.RedisAddr, os.Getenv("REDIS_ADDR"))
	setString(&c.NATSURL, os.Getenv("NATS_URL"))
	setString(&c.GeoIPDB, os.Getenv("GEOIP_DB"))

	ints := []struct {
		name string
		dst  *int
	}{
		{"WORKER_POOL_SIZE", &c.WorkerPoolSize},
		{"MAX_CONNECTIONS", &c.MaxConnections},
	}
	for _, i := range ints {
		raw := os.Getenv(i.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", i.name, err)
		}
		*i.dst = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"READ_TIMEOUT", &c.ReadTimeout},
		{"WRITE_TIMEOUT", &c.WriteTimeout},
		{"HEARTBEAT_INTERVAL", &c.HeartbeatInterval},
		{"STORE_TIMEOUT", &c.StoreTimeout},
		{"BAN_CLEANUP_INTERVAL", &c.BanCleanupInterval},
	}
	for _, d := range durations {
		raw := os.Getenv(d.name)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.WorkerPoolSize <= 0:
		return errors.New("worker pool size must be positive")
	case c.MaxConnections <= 0:
		return errors.New("max connections must be positive")
	case c.StoreTimeout <= 0:
		return errors.New("store timeout must be positive")
	case c.HeartbeatInterval <= 0:
		return errors.New("heartbeat interval must be positive")
	case c.BanCleanupInterval <= 0:
		return errors.New("ban cleanup interval must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
