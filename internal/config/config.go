/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	MetricsBind   string
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string

	// Calendar run cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool
	CacheTTL      time.Duration

	// Event forwarding, empty disables NATS
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// S3 Object Storage configuration for published iCal feeds
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// ExportDir receives iCal feeds when no bucket is configured.
	ExportDir string

	// Plan refresh
	PlansDir    string
	RefreshCron string

	// LeaderElection restricts plan refreshes to one instance, elected
	// through Redis.
	LeaderElection bool

	APIRatePerSec float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"RERUN_ENV", "GRIMNIR_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"RERUN_HTTP_BIND", "GRIMNIR_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"RERUN_HTTP_PORT", "GRIMNIR_HTTP_PORT"}, 8080),
		MetricsBind:   getEnvAny([]string{"RERUN_METRICS_BIND", "GRIMNIR_METRICS_BIND"}, "127.0.0.1:9000"),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"RERUN_DB_BACKEND", "GRIMNIR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"RERUN_DB_DSN", "GRIMNIR_DB_DSN"}, "file:reruncal.db"),
		JWTSigningKey: getEnvAny([]string{"RERUN_JWT_SIGNING_KEY", "GRIMNIR_JWT_SIGNING_KEY"}, ""),

		RedisAddr:     getEnvAny([]string{"RERUN_REDIS_ADDR", "GRIMNIR_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"RERUN_REDIS_PASSWORD", "GRIMNIR_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"RERUN_REDIS_DB", "GRIMNIR_REDIS_DB"}, 0),
		CacheEnabled:  getEnvBoolAny([]string{"RERUN_CACHE_ENABLED", "GRIMNIR_CACHE_ENABLED"}, false),
		CacheTTL:      time.Duration(getEnvIntAny([]string{"RERUN_CACHE_TTL_SECONDS", "GRIMNIR_CACHE_TTL_SECONDS"}, 3600)) * time.Second,

		NATSURL: getEnvAny([]string{"RERUN_NATS_URL", "GRIMNIR_NATS_URL"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"RERUN_TRACING_ENABLED", "GRIMNIR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"RERUN_OTLP_ENDPOINT", "GRIMNIR_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"RERUN_TRACING_SAMPLE_RATE", "GRIMNIR_TRACING_SAMPLE_RATE"}, 1.0),

		S3AccessKeyID:     getEnvAny([]string{"RERUN_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"RERUN_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"RERUN_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"RERUN_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"RERUN_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"RERUN_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"RERUN_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		ExportDir: getEnvAny([]string{"RERUN_EXPORT_DIR", "GRIMNIR_EXPORT_DIR"}, ""),

		PlansDir:    getEnvAny([]string{"RERUN_PLANS_DIR", "GRIMNIR_PLANS_DIR"}, ""),
		RefreshCron: getEnvAny([]string{"RERUN_REFRESH_CRON", "GRIMNIR_REFRESH_CRON"}, ""),

		LeaderElection: getEnvBoolAny([]string{"RERUN_LEADER_ELECTION", "GRIMNIR_LEADER_ELECTION"}, false),

		APIRatePerSec: getEnvFloatAny([]string{"RERUN_API_RATE_PER_SEC", "GRIMNIR_API_RATE_PER_SEC"}, 5),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("RERUN_DB_DSN or GRIMNIR_DB_DSN must not be empty")
	}

	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("RERUN_CACHE_TTL_SECONDS must be positive")
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("RERUN_TRACING_SAMPLE_RATE must be between 0 and 1, got %v", cfg.TracingSampleRate)
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// RequireServe checks the settings only the API server needs.
func (c *Config) RequireServe() error {
	if c.JWTSigningKey == "" {
		return fmt.Errorf("RERUN_JWT_SIGNING_KEY or GRIMNIR_JWT_SIGNING_KEY must be provided")
	}
	if strings.EqualFold(c.Environment, "production") && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("RERUN_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}
	if c.APIRatePerSec <= 0 {
		return fmt.Errorf("RERUN_API_RATE_PER_SEC must be positive")
	}
	return nil
}

// ProductionWarnings lists settings that work but are unsuitable for a
// production deployment.
func (c *Config) ProductionWarnings() []string {
	if !strings.EqualFold(c.Environment, "production") {
		return nil
	}
	var warnings []string
	if c.DBBackend == DatabaseSQLite {
		warnings = append(warnings, "sqlite backend in production; calendar runs are not shared between instances")
	}
	if c.S3Bucket == "" && c.ExportDir == "" {
		warnings = append(warnings, "no S3 bucket or export directory; iCal feeds are served from the API only")
	}
	return warnings
}

// HTTPAddr is the API listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use RERUN_ENV (or GRIMNIR_ENV)",
		"JWT_SIGNING_KEY": "use RERUN_JWT_SIGNING_KEY (or GRIMNIR_JWT_SIGNING_KEY)",
		"TRACING_ENABLED": "use RERUN_TRACING_ENABLED (or GRIMNIR_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use RERUN_OTLP_ENDPOINT (or GRIMNIR_OTLP_ENDPOINT)",
		"NATS_URL":        "use RERUN_NATS_URL (or GRIMNIR_NATS_URL)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
