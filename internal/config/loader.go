package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// tomlConfig is the TOML wire form of the file-settable part of Config
// (http, postgres, redis, streams, gateway, dev_mode), keeping the typed
// Config free of wire tags. The other Config sections are not read from
// the file and keep their Default() values.
type tomlConfig struct {
	HTTP     tomlHTTP     `toml:"http"`
	Postgres tomlPostgres `toml:"postgres"`
	Redis    tomlRedis    `toml:"redis"`
	Streams  tomlStreams  `toml:"streams"`
	Gateway  tomlGateway  `toml:"gateway"`
	DevMode  bool         `toml:"dev_mode"`
}

type tomlGateway struct {
	PaymentsURL  string `toml:"payments_url"`
	InventoryURL string `toml:"inventory_url"`
}

type tomlHTTP struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type tomlPostgres struct {
	DSN         string `toml:"dsn"`
	MaxOpenConn int    `toml:"max_open_conn"`
	MinOpenConn int    `toml:"min_open_conn"`
}

type tomlRedis struct {
	URL string `toml:"url"`
}

type tomlStreams struct {
	Backend       string `toml:"backend"`
	NATSURL       string `toml:"nats_url"`
	StreamName    string `toml:"stream_name"`
	ConsumerGroup string `toml:"consumer_group"`
	ConsumerName  string `toml:"consumer_name"`
}

// Load reads a TOML file at path (if non-empty and present) layered onto
// Default(), then applies environment variable overrides with the
// "BACKBONE_" prefix so container deployments never need a file at all.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var t tomlConfig
			if _, err := toml.DecodeFile(path, &t); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
			applyTOML(cfg, &t)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyTOML(cfg *Config, t *tomlConfig) {
	if t.HTTP.Port != 0 {
		cfg.HTTP.Port = t.HTTP.Port
	}
	if len(t.HTTP.CORSOrigins) > 0 {
		cfg.HTTP.CORSOrigins = t.HTTP.CORSOrigins
	}
	if t.Postgres.DSN != "" {
		cfg.Postgres.DSN = t.Postgres.DSN
	}
	if t.Postgres.MaxOpenConn != 0 {
		cfg.Postgres.MaxOpenConn = t.Postgres.MaxOpenConn
	}
	if t.Postgres.MinOpenConn != 0 {
		cfg.Postgres.MinOpenConn = t.Postgres.MinOpenConn
	}
	if t.Redis.URL != "" {
		cfg.Redis.URL = t.Redis.URL
	}
	if t.Streams.Backend != "" {
		cfg.Streams.Backend = t.Streams.Backend
	}
	if t.Streams.NATSURL != "" {
		cfg.Streams.NATSURL = t.Streams.NATSURL
	}
	if t.Streams.StreamName != "" {
		cfg.Streams.StreamName = t.Streams.StreamName
	}
	if t.Streams.ConsumerGroup != "" {
		cfg.Streams.ConsumerGroup = t.Streams.ConsumerGroup
	}
	if t.Streams.ConsumerName != "" {
		cfg.Streams.ConsumerName = t.Streams.ConsumerName
	}
	if t.Gateway.PaymentsURL != "" {
		cfg.Gateway.PaymentsURL = t.Gateway.PaymentsURL
	}
	if t.Gateway.InventoryURL != "" {
		cfg.Gateway.InventoryURL = t.Gateway.InventoryURL
	}
	cfg.DevMode = t.DevMode
}

// applyEnv overrides a handful of deployment-critical fields from the
// environment; env takes precedence over the file (12-factor style).
func applyEnv(cfg *Config) {
	if v := os.Getenv("BACKBONE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
	if v := os.Getenv("BACKBONE_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("BACKBONE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("BACKBONE_PAYMENTS_URL"); v != "" {
		cfg.Gateway.PaymentsURL = v
	}
	if v := os.Getenv("BACKBONE_INVENTORY_URL"); v != "" {
		cfg.Gateway.InventoryURL = v
	}
	if v := os.Getenv("BACKBONE_STREAMS_BACKEND"); v != "" {
		cfg.Streams.Backend = v
	}
	if v := os.Getenv("BACKBONE_STREAMS_NATS_URL"); v != "" {
		cfg.Streams.NATSURL = v
	}
	if v := os.Getenv("BACKBONE_DEV"); v != "" {
		cfg.DevMode = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BACKBONE_CHAOS_ENABLED"); v != "" {
		cfg.Chaos.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BACKBONE_CHAOS_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Chaos.ErrorRate = f
		}
	}
	if v := os.Getenv("BACKBONE_CHAOS_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chaos.Latency = time.Duration(n) * time.Millisecond
		}
	}
}
