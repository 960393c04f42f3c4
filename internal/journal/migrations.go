package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one schema change, applied in its own transaction.
type migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "sessions and transitions",
		Up: `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    source      TEXT NOT NULL,
    started_ns  INTEGER NOT NULL,
    ended_ns    INTEGER
);

CREATE TABLE IF NOT EXISTS transitions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    at_ns        INTEGER NOT NULL,
    from_state   TEXT NOT NULL,
    to_state     TEXT NOT NULL,
    p_flow       REAL NOT NULL,
    p_incubation REAL NOT NULL,
    p_stuck      REAL NOT NULL,
    observation  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id, id);
`,
	},
	{
		Version:     2,
		Description: "smoothed score and rule label on transitions",
		Up: `
ALTER TABLE transitions ADD COLUMN smoothed REAL NOT NULL DEFAULT 0;
ALTER TABLE transitions ADD COLUMN rule_state TEXT NOT NULL DEFAULT 'incubation';
`,
	},
}

// migrate applies every migration newer than the recorded schema version.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}
