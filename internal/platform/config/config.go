// Package config builds runtime configuration by layering defaults, an
// optional YAML file, and TRUSTGATE_-prefixed environment variables.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full server configuration.
type Config struct {
	Addr          string `koanf:"addr"`
	AdminToken    string `koanf:"admin_token"`
	JWTSigningKey string `koanf:"jwt_signing_key"`

	// DatabaseURL enables the PostgreSQL stores; empty selects in-memory.
	DatabaseURL string `koanf:"database_url"`

	Redis RedisConfig `koanf:"redis"`

	// AnalysisURL is the base URL of the document analysis service; empty
	// selects the deterministic stub.
	AnalysisURL     string        `koanf:"analysis_url"`
	AnalysisTimeout time.Duration `koanf:"analysis_timeout"`

	// ClaimTTL bounds how long a reviewer may hold a request exclusively.
	ClaimTTL time.Duration `koanf:"claim_ttl"`

	// HighRiskThreshold is the risk score at or above which a request jumps
	// to the front of the review queue.
	HighRiskThreshold int `koanf:"high_risk_threshold"`

	// AuditKafkaBrokers enables the Kafka audit sink when non-empty.
	AuditKafkaBrokers []string `koanf:"audit_kafka_brokers"`
	AuditKafkaTopic   string   `koanf:"audit_kafka_topic"`
}

// RedisConfig configures the claim lease store connection. An empty URL
// selects the in-memory lease store.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// New returns the configuration defaults.
func New() *Config {
	return &Config{
		Addr:              ":8080",
		JWTSigningKey:     "dev-secret-key-change-in-production",
		AnalysisTimeout:   10 * time.Second,
		ClaimTTL:          10 * time.Minute,
		HighRiskThreshold: 70,
		AuditKafkaTopic:   "trustgate.audit",
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TRUSTGATE_CONFIG is set
//  3. env (prefix TRUSTGATE_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("TRUSTGATE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: TRUSTGATE_ADDR, TRUSTGATE_DATABASE_URL, ...
	// Underscores are preserved to match koanf tags on the struct.
	envProvider := env.Provider("TRUSTGATE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "trustgate_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.ClaimTTL <= 0 {
		return nil, errors.New("claim_ttl must be positive")
	}
	if cfg.AnalysisTimeout <= 0 {
		return nil, errors.New("analysis_timeout must be positive")
	}
	return &cfg, nil
}
