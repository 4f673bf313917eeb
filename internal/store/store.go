// Package store is the embedded observation store: three tables (events,
// observations, improvements) behind a single SQLite connection opened in
// write-ahead journaling mode so external readers (a dashboard, a report
// command) never block the harness's writer.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the database connection used by the iteration loop.
type Store struct {
	db *sql.DB
}

// Open creates the database file if missing, enables WAL journaling, and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// The harness is a single writer; one connection avoids SQLITE_BUSY
	// contention between goroutines in this process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Event is one fine-grained (session, kind, value) record.
type Event struct {
	Session uint64
	Kind    string
	Value   string
	Tags    string
}

// InsertEvent appends one event row. Events are never updated; re-ingesting
// a session may duplicate them, which is acceptable under the at-least-once
// ingestion model.
func (s *Store) InsertEvent(ts time.Time, ev Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (ts, session, kind, value, tags) VALUES (?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339), ev.Session, ev.Kind, ev.Value, nullIfEmpty(ev.Tags),
	)
	if err != nil {
		return fmt.Errorf("inserting event %s for session %d: %w", ev.Kind, ev.Session, err)
	}
	return nil
}

// InsertEvents writes a batch of events sharing one timestamp, as required
// by the "all events for one ingestion share a single timestamp" invariant.
func (s *Store) InsertEvents(ts time.Time, evs []Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning event batch: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events (ts, session, kind, value, tags) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	tsStr := ts.UTC().Format(time.RFC3339)
	for _, ev := range evs {
		if _, err := stmt.Exec(tsStr, ev.Session, ev.Kind, ev.Value, nullIfEmpty(ev.Tags)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting event %s for session %d: %w", ev.Kind, ev.Session, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event batch: %w", err)
	}
	return nil
}

// UpsertObservation replaces the materialized summary row for a session.
// Re-ingesting the same session is idempotent: the row is replaced, never
// duplicated.
func (s *Store) UpsertObservation(session uint64, ts time.Time, durationSecs float64, outcome *string, data map[string]any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling observation data for session %d: %w", session, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO observations (session, ts, duration, outcome, data)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session) DO UPDATE SET
		   ts = excluded.ts,
		   duration = excluded.duration,
		   outcome = excluded.outcome,
		   data = excluded.data`,
		session, ts.UTC().Format(time.RFC3339), durationSecs, nullableString(outcome), string(blob),
	)
	if err != nil {
		return fmt.Errorf("upserting observation for session %d: %w", session, err)
	}
	return nil
}

// Observation is a materialized per-session summary row.
type Observation struct {
	Session  uint64
	TS       string
	Duration float64
	Outcome  *string
	Data     map[string]any
}

// GetObservation fetches the observation row for one session, or nil if none
// exists.
func (s *Store) GetObservation(session uint64) (*Observation, error) {
	var (
		ts       string
		duration sql.NullFloat64
		outcome  sql.NullString
		data     string
	)
	err := s.db.QueryRow(
		`SELECT ts, duration, outcome, data FROM observations WHERE session = ?`, session,
	).Scan(&ts, &duration, &outcome, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching observation for session %d: %w", session, err)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return nil, fmt.Errorf("decoding observation data for session %d: %w", session, err)
	}

	obs := &Observation{Session: session, TS: ts, Data: parsed}
	if duration.Valid {
		obs.Duration = duration.Float64
	}
	if outcome.Valid {
		o := outcome.String
		obs.Outcome = &o
	}
	return obs, nil
}

// CountEvents returns how many event rows exist for a session, for tests
// that assert on event fan-out.
func (s *Store) CountEvents(session uint64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session = ?`, session).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events for session %d: %w", session, err)
	}
	return n, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
