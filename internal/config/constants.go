package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background task intervals
const (
	// TickInterval drives the per-second countdown of active sessions.
	TickInterval = time.Second

	// ReconcileInterval drives the orphan shaping-rule sweep.
	ReconcileInterval = 30 * time.Second
)

// Enforcement timing
const (
	// CommandTimeout bounds every OS networking tool invocation.
	CommandTimeout = 5 * time.Second

	// MigrationSettleDelay sits between retracting the old rule set and
	// applying the new one, so both are never installed at once.
	MigrationSettleDelay = 200 * time.Millisecond
)

// Identity resolution
const (
	// ProbeTimeout bounds the neighbor-table seeding probe.
	ProbeTimeout = time.Second
)

// Rate limiting on the payment endpoints
const (
	SessionStartRateLimit  = 10
	SessionStartRateWindow = time.Minute
)
