// Package config loads server configuration from the environment, with an
// optional YAML overlay for deployment profiles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string

	// RedisAddr enables the Redis-backed rate-limit counter store when set.
	// Empty means in-process counters.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWTSecret signs access and refresh tokens. Required; bootstrap fails
	// without it.
	JWTSecret string

	// BulkChunkSize bounds each chunk of a bulk upsert/delete.
	BulkChunkSize int

	// SyncGateHours is the default last-sync gating interval.
	SyncGateHours int

	// Upstream HTTP budgets. Sync calls carry the longer timeout and retry
	// transient 5xx responses; interactive calls do neither.
	UpstreamTimeout   time.Duration
	SyncCallTimeout   time.Duration
	SyncRetryAttempts int
	SyncRetryBackoff  time.Duration

	// Prayer fan-out tuning.
	PrayerMaxConcurrency int
	PolitenessMinMs      int
	PolitenessMaxMs      int

	// TranslationFallbacks is the raw "id:lang,id:lang" fallback set consulted
	// when the translation upstream 5xxes.
	TranslationFallbacks string

	// Upstream base URLs.
	QuranAPIBase  string
	HadithAPIBase string
	PrayerAPIBase string
	GoldAPIBase   string

	// GoldCurrency is the quote currency for gold prices and nisab.
	GoldCurrency string

	// AllowedOrigins is the CORS allow list; "*" allows any origin.
	AllowedOrigins []string

	// Observability.
	OTLPEndpoint string
	ServiceName  string

	// Optional bootstrap seeding.
	SeedAdminEmail    string
	SeedAdminPassword string
}

// Load loads configuration from environment variables. A YAML overlay named
// by MINARET_CONFIG is applied on top when present.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getenv("PORT", "8080"),
		LogLevel:             getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:          getenv("DATABASE_URL", "postgres://minaret@localhost:5432/minaret?sslmode=disable"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getenvInt("REDIS_DB", 0),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		BulkChunkSize:        getenvInt("BULK_CHUNK_SIZE", 500),
		SyncGateHours:        getenvInt("SYNC_GATE_HOURS", 24),
		UpstreamTimeout:      getenvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		SyncCallTimeout:      getenvDuration("SYNC_CALL_TIMEOUT", 300*time.Second),
		SyncRetryAttempts:    getenvInt("SYNC_RETRY_ATTEMPTS", 3),
		SyncRetryBackoff:     getenvDuration("SYNC_RETRY_BACKOFF", 250*time.Millisecond),
		PrayerMaxConcurrency: getenvInt("PRAYER_MAX_CONCURRENCY", 2),
		PolitenessMinMs:      getenvInt("PRAYER_POLITENESS_MIN_MS", 75),
		PolitenessMaxMs:      getenvInt("PRAYER_POLITENESS_MAX_MS", 500),
		TranslationFallbacks: os.Getenv("QURAN_TRANSLATION_FALLBACKS"),
		QuranAPIBase:         getenv("QURAN_API_BASE", "https://api.quran.com/api/v4"),
		HadithAPIBase:        getenv("HADITH_API_BASE", "https://api.hadith.gading.dev"),
		PrayerAPIBase:        getenv("PRAYER_API_BASE", "https://api.aladhan.com/v1"),
		GoldAPIBase:          getenv("GOLD_API_BASE", "https://api.metalpriceapi.com/v1"),
		GoldCurrency:         getenv("GOLD_CURRENCY", "USD"),
		AllowedOrigins:       splitList(getenv("ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:         os.Getenv("OTLP_ENDPOINT"),
		ServiceName:          getenv("SERVICE_NAME", "minaret-core"),
		SeedAdminEmail:       os.Getenv("SEED_ADMIN_EMAIL"),
		SeedAdminPassword:    os.Getenv("SEED_ADMIN_PASSWORD"),
	}

	if path := os.Getenv("MINARET_CONFIG"); path != "" {
		if err := applyOverlay(cfg, path); err != nil {
			return nil, fmt.Errorf("config: overlay %s: %w", path, err)
		}
	}

	if cfg.BulkChunkSize < 1 {
		return nil, fmt.Errorf("config: BULK_CHUNK_SIZE must be >= 1, got %d", cfg.BulkChunkSize)
	}
	if cfg.SyncRetryAttempts < 1 {
		return nil, fmt.Errorf("config: SYNC_RETRY_ATTEMPTS must be >= 1, got %d", cfg.SyncRetryAttempts)
	}
	if cfg.PrayerMaxConcurrency < 1 {
		return nil, fmt.Errorf("config: PRAYER_MAX_CONCURRENCY must be >= 1, got %d", cfg.PrayerMaxConcurrency)
	}
	if cfg.PolitenessMinMs > cfg.PolitenessMaxMs {
		return nil, fmt.Errorf("config: politeness window inverted (%d > %d)", cfg.PolitenessMinMs, cfg.PolitenessMaxMs)
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
