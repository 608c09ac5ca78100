package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment string
	GatewayPort string
	AdminPort   string

	DatabasePath string

	// RedisAddr selects the shared cache store. Empty means the in-process
	// store is used (single-instance deployments, dev, tests).
	RedisAddr     string
	RedisPassword string

	// ApexDomain is the platform's apex, e.g. "tansu.dev". Host labels left
	// of it are candidate tenant identifiers.
	ApexDomain string
	// ReservedLabels are subdomains that never resolve to a tenant.
	ReservedLabels []string

	// TrustForwardedFor controls whether X-Forwarded-For from the fronting
	// load balancer is believed for client IP derivation.
	TrustForwardedFor bool

	// PolicyCacheTTL bounds cross-instance policy staleness.
	PolicyCacheTTL time.Duration

	// Output cache TTL classes.
	CacheDefaultTTL time.Duration
	CacheStaticTTL  time.Duration

	// Rate limiting.
	RateWindow         time.Duration
	RateDefaultPermits int
	RateDefaultQueue   int

	// JWTSecret verifies bearer tokens issued by the identity service.
	JWTSecret string
	// AdminKeyHash is a bcrypt hash of the break-glass admin API key.
	// Empty disables key auth (JWT scope only).
	AdminKeyHash string

	// AlertURLs are shoutrrr service URLs notified on destination state
	// changes and degraded-mode events.
	AlertURLs []string

	ProbeTimeout    time.Duration
	UpstreamTimeout time.Duration
}

// Load reads env vars and falls back to defaults so the gateway can boot
// with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:        getEnv("TANSU_ENV", "development"),
		GatewayPort:        getEnv("TANSU_GATEWAY_PORT", "8080"),
		AdminPort:          getEnv("TANSU_ADMIN_PORT", "8081"),
		DatabasePath:       getEnv("TANSU_DB_PATH", filepath.Join("data", "gateway.db")),
		RedisAddr:          getEnv("TANSU_REDIS_ADDR", ""),
		RedisPassword:      getEnv("TANSU_REDIS_PASSWORD", ""),
		ApexDomain:         getEnv("TANSU_APEX_DOMAIN", "tansu.dev"),
		ReservedLabels:     splitList(getEnv("TANSU_RESERVED_LABELS", "www,api,admin,dashboard")),
		TrustForwardedFor:  getBool("TANSU_TRUST_FORWARDED_FOR", true),
		PolicyCacheTTL:     getDuration("TANSU_POLICY_CACHE_TTL", 30*time.Second),
		CacheDefaultTTL:    getDuration("TANSU_CACHE_DEFAULT_TTL", 60*time.Second),
		CacheStaticTTL:     getDuration("TANSU_CACHE_STATIC_TTL", 10*time.Minute),
		RateWindow:         getDuration("TANSU_RATE_WINDOW", 60*time.Second),
		RateDefaultPermits: getInt("TANSU_RATE_PERMITS", 120),
		RateDefaultQueue:   getInt("TANSU_RATE_QUEUE", 0),
		JWTSecret:          getEnv("TANSU_JWT_SECRET", ""),
		AdminKeyHash:       getEnv("TANSU_ADMIN_KEY_HASH", ""),
		AlertURLs:          splitList(getEnv("TANSU_ALERT_URLS", "")),
		ProbeTimeout:       getDuration("TANSU_PROBE_TIMEOUT", 5*time.Second),
		UpstreamTimeout:    getDuration("TANSU_UPSTREAM_TIMEOUT", 30*time.Second),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}

	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}

	return fallback
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
