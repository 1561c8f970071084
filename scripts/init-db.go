package main

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS filter_sessions (
	id              UUID PRIMARY KEY,
	session_code    TEXT NOT NULL UNIQUE,
	current_filters JSONB NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at      TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS session_participants (
	id           TEXT PRIMARY KEY,
	session_code TEXT NOT NULL REFERENCES filter_sessions(session_code) ON DELETE CASCADE,
	display_name TEXT NOT NULL,
	is_host      BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at    TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_participants_session_code
	ON session_participants (session_code, joined_at);

CREATE INDEX IF NOT EXISTS idx_filter_sessions_inactive
	ON filter_sessions (updated_at) WHERE is_active = FALSE;
`

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintf(os.Stderr, "Usage: DATABASE_URL=postgres://... go run scripts/init-db.go\n")
		os.Exit(1)
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("schema applied")
}
