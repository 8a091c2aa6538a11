package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("backend = %q, want sqlite", cfg.DBBackend)
	}
	if cfg.DBDSN != "file:reruncal.db" {
		t.Fatalf("dsn = %q", cfg.DBDSN)
	}
	if cfg.CacheTTL != time.Hour {
		t.Fatalf("cache ttl = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.HTTPAddr() != "0.0.0.0:8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr())
	}
}

func TestLoadPrefersRerunPrefix(t *testing.T) {
	t.Setenv("GRIMNIR_DB_BACKEND", "mysql")
	t.Setenv("RERUN_DB_BACKEND", "postgres")
	t.Setenv("GRIMNIR_CACHE_TTL_SECONDS", "60")
	t.Setenv("RERUN_CACHE_ENABLED", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabasePostgres {
		t.Fatalf("backend = %q, want postgres", cfg.DBBackend)
	}
	if cfg.CacheTTL != time.Minute {
		t.Fatalf("cache ttl = %v, want 1m from the alias", cfg.CacheTTL)
	}
	if !cfg.CacheEnabled {
		t.Fatal("expected cache to be enabled")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"backend", "RERUN_DB_BACKEND", "oracle"},
		{"ttl", "RERUN_CACHE_TTL_SECONDS", "0"},
		{"sample rate", "RERUN_TRACING_SAMPLE_RATE", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) != 2 {
		t.Fatalf("warnings = %v, want 2", cfg.LegacyEnvWarnings)
	}
}

func TestRequireServe(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.RequireServe(); err == nil {
		t.Fatal("expected serve to require a signing key")
	}

	cfg.JWTSigningKey = "short"
	if err := cfg.RequireServe(); err != nil {
		t.Fatalf("development should accept a short key: %v", err)
	}

	cfg.Environment = "production"
	if err := cfg.RequireServe(); err == nil {
		t.Fatal("expected production to reject a short key")
	}
	if len(cfg.ProductionWarnings()) != 2 {
		t.Fatalf("production warnings = %v", cfg.ProductionWarnings())
	}
}
