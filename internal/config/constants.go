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

// Session synchronization timings. Presence is derived: a participant whose
// last heartbeat is older than PresenceThreshold shows as stale, but
// staleness alone never removes them from the session.
const (
	HeartbeatInterval = 15 * time.Second
	PresenceThreshold = 30 * time.Second
	FilterDebounce    = 500 * time.Millisecond
)

// Background retention job
const (
	RetentionJobInterval  = 5 * time.Minute
	EndedSessionRetention = 24 * time.Hour
)

// How many times a create retries generation when the session code
// collides with an existing row
const CodeInsertAttempts = 5
