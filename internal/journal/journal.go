// Package journal records state transitions to a SQLite database.
//
// The journal is write-only from the estimator's point of view: nothing in it
// is ever read back into the engine. It exists for offline review with
// gsectl.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"gse/internal/cognitive"
)

// ErrNoSession is returned by Record when no session is open.
var ErrNoSession = errors.New("no journal session open")

// Session is one run of the estimator.
type Session struct {
	ID          uuid.UUID  `json:"id"`
	Source      string     `json:"source"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Transitions int        `json:"transitions"`
}

// Transition is a change of the most probable state.
type Transition struct {
	ID          int64                 `json:"id"`
	SessionID   uuid.UUID             `json:"session_id"`
	At          time.Time             `json:"at"`
	From        cognitive.State       `json:"from"`
	To          cognitive.State       `json:"to"`
	Belief      cognitive.Belief      `json:"belief"`
	Observation cognitive.Observation `json:"observation"`
	Smoothed    float64               `json:"smoothed"`

	// Rule is the legacy rule classifier's label for the same keystroke.
	Rule cognitive.State `json:"rule"`
}

// FromResult builds a transition from an engine result.
func FromResult(res cognitive.Result, rule cognitive.State, at time.Time) Transition {
	return Transition{
		At:          at,
		From:        res.Prior.ArgMax(),
		To:          res.Posterior.ArgMax(),
		Belief:      res.Posterior,
		Observation: res.Observation,
		Smoothed:    res.Smoothed,
		Rule:        rule,
	}
}

// Journal is a SQLite transition journal. It is safe for concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	session uuid.UUID
}

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close ends the open session, if any, and closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	endErr := j.EndSession(context.Background())
	if err := j.db.Close(); err != nil {
		return err
	}
	if errors.Is(endErr, ErrNoSession) {
		return nil
	}
	return endErr
}

// Ping checks that the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// StartSession opens a new session, ending any session already open.
func (j *Journal) StartSession(ctx context.Context, source string) (uuid.UUID, error) {
	if err := j.EndSession(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO sessions (id, source, started_ns) VALUES (?, ?, ?)",
		id.String(), source, j.now().UnixNano())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}

	j.mu.Lock()
	j.session = id
	j.mu.Unlock()
	return id, nil
}

// EndSession marks the open session as ended.
func (j *Journal) EndSession(ctx context.Context) error {
	j.mu.Lock()
	id := j.session
	j.session = uuid.Nil
	j.mu.Unlock()

	if id == uuid.Nil {
		return ErrNoSession
	}
	_, err := j.db.ExecContext(ctx,
		"UPDATE sessions SET ended_ns = ? WHERE id = ?",
		j.now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Session returns the open session's ID, or uuid.Nil.
func (j *Journal) Session() uuid.UUID {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

// Record appends a transition to the open session.
func (j *Journal) Record(ctx context.Context, t Transition) (int64, error) {
	id := j.Session()
	if id == uuid.Nil {
		return 0, ErrNoSession
	}
	if t.At.IsZero() {
		t.At = j.now()
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions
		    (session_id, at_ns, from_state, to_state, p_flow, p_incubation, p_stuck, observation, smoothed, rule_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), t.At.UnixNano(), t.From.String(), t.To.String(),
		t.Belief[cognitive.Flow], t.Belief[cognitive.Incubation], t.Belief[cognitive.Stuck],
		int(t.Observation), t.Smoothed, t.Rule.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transition: %w", err)
	}
	return res.LastInsertId()
}

// Sessions lists sessions, most recent first.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.source, s.started_ns, s.ended_ns, COUNT(t.id)
		FROM sessions s
		LEFT JOIN transitions t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_ns DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			id      string
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&id, &s.Source, &started, &ended, &s.Transitions); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("session id %q: %w", id, err)
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Transitions returns the transitions of a session in order.
func (j *Journal) Transitions(ctx context.Context, session uuid.UUID) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, at_ns, from_state, to_state, p_flow, p_incubation, p_stuck, observation, smoothed, rule_state
		FROM transitions
		WHERE session_id = ?
		ORDER BY id`, session.String())
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t              Transition
			at             int64
			from, to, rule string
			obs            int
		)
		if err := rows.Scan(&t.ID, &at, &from, &to,
			&t.Belief[cognitive.Flow], &t.Belief[cognitive.Incubation], &t.Belief[cognitive.Stuck],
			&obs, &t.Smoothed, &rule); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.SessionID = session
		t.At = time.Unix(0, at)
		t.Observation = cognitive.Observation(obs)
		if t.From, err = cognitive.ParseState(from); err != nil {
			return nil, err
		}
		if t.To, err = cognitive.ParseState(to); err != nil {
			return nil, err
		}
		if t.Rule, err = cognitive.ParseState(rule); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
