package store

import (
	"strings"
	"time"
)

// DefaultOpTimeout bounds every individual database operation so a stalled
// engine surfaces as a retryable error instead of hanging the caller.
const DefaultOpTimeout = 5 * time.Second

// Opts holds configuration options for SQL-backed stores.
type Opts struct {
	DSN       string
	OpTimeout time.Duration
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithOpTimeout overrides the per-operation database timeout.
func WithOpTimeout(d time.Duration) Option {
	return func(o *Opts) { o.OpTimeout = d }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths are assumed to be SQLite databases).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{OpTimeout: DefaultOpTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
