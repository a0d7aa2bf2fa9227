package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// overlay is the YAML shape of a deployment profile. Every field is optional;
// zero values leave the environment-derived setting untouched.
type overlay struct {
	Port                 string   `yaml:"port"`
	LogLevel             string   `yaml:"log_level"`
	DatabaseURL          string   `yaml:"database_url"`
	RedisAddr            string   `yaml:"redis_addr"`
	BulkChunkSize        int      `yaml:"bulk_chunk_size"`
	SyncGateHours        int      `yaml:"sync_gate_hours"`
	UpstreamTimeout      string   `yaml:"upstream_timeout"`
	SyncCallTimeout      string   `yaml:"sync_call_timeout"`
	PrayerMaxConcurrency int      `yaml:"prayer_max_concurrency"`
	PolitenessMinMs      int      `yaml:"politeness_min_ms"`
	PolitenessMaxMs      int      `yaml:"politeness_max_ms"`
	OTLPEndpoint         string   `yaml:"otlp_endpoint"`
	ServiceName          string   `yaml:"service_name"`
	GoldCurrency         string   `yaml:"gold_currency"`
	AllowedOrigins       []string `yaml:"allowed_origins"`
}

func applyOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	if o.Port != "" {
		cfg.Port = o.Port
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.DatabaseURL != "" {
		cfg.DatabaseURL = o.DatabaseURL
	}
	if o.RedisAddr != "" {
		cfg.RedisAddr = o.RedisAddr
	}
	if o.BulkChunkSize > 0 {
		cfg.BulkChunkSize = o.BulkChunkSize
	}
	if o.SyncGateHours > 0 {
		cfg.SyncGateHours = o.SyncGateHours
	}
	if o.UpstreamTimeout != "" {
		d, err := time.ParseDuration(o.UpstreamTimeout)
		if err != nil {
			return fmt.Errorf("upstream_timeout: %w", err)
		}
		cfg.UpstreamTimeout = d
	}
	if o.SyncCallTimeout != "" {
		d, err := time.ParseDuration(o.SyncCallTimeout)
		if err != nil {
			return fmt.Errorf("sync_call_timeout: %w", err)
		}
		cfg.SyncCallTimeout = d
	}
	if o.PrayerMaxConcurrency > 0 {
		cfg.PrayerMaxConcurrency = o.PrayerMaxConcurrency
	}
	if o.PolitenessMinMs > 0 {
		cfg.PolitenessMinMs = o.PolitenessMinMs
	}
	if o.PolitenessMaxMs > 0 {
		cfg.PolitenessMaxMs = o.PolitenessMaxMs
	}
	if o.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = o.OTLPEndpoint
	}
	if o.ServiceName != "" {
		cfg.ServiceName = o.ServiceName
	}
	if o.GoldCurrency != "" {
		cfg.GoldCurrency = o.GoldCurrency
	}
	if len(o.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = o.AllowedOrigins
	}
	return nil
}
