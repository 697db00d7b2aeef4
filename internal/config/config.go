// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	// Database settings.
	DatabaseURL string // Postgres URL for the factor catalog and request store.
	CatalogPath string // Optional SQLite factor snapshot, used instead of Postgres.

	// Ledger gateway.
	LedgerURL string // Base URL of the token network gateway.

	// Ledger accounts.
	IssueFromAccount string // Default account tokens are issued from.
	IssueToAccount   string // Default account tokens are issued to.
	IssueByAccount   string // Account signing ledger calls.
	IssueByKey       string // Private key of the signing account.

	// Content storage.
	StoreDir      string // Directory for the encrypted object store.
	DocUploadPath string // Directory uploaded supporting documents are read from.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel    string
	Concurrency int // Parallel activity computations per batch.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads configuration without validating it. Callers that override
// fields afterwards validate the final result themselves.
func FromEnv() Config {
	return Config{
		DatabaseURL:      envStr("DATABASE_URL", ""),
		CatalogPath:      envStr("EMISSARY_CATALOG_PATH", ""),
		LedgerURL:        envStr("EMISSARY_LEDGER_URL", ""),
		IssueFromAccount: envStr("EMISSARY_ISSUE_FROM_ACCT", ""),
		IssueToAccount:   envStr("EMISSARY_ISSUE_TO_ACCT", ""),
		IssueByAccount:   envStr("EMISSARY_ISSUE_BY_ACCT", ""),
		IssueByKey:       envStr("EMISSARY_ISSUE_BY_KEY", ""),
		StoreDir:         envStr("EMISSARY_STORE_DIR", "upload"),
		DocUploadPath:    envStr("DOC_UPLOAD_PATH", "./upload/"),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "emissary"),
		LogLevel:         envStr("EMISSARY_LOG_LEVEL", "info"),
		Concurrency:      envInt("EMISSARY_CONCURRENCY", 8),
	}
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && c.CatalogPath == "" {
		return fmt.Errorf("config: DATABASE_URL or EMISSARY_CATALOG_PATH is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: EMISSARY_CONCURRENCY must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
