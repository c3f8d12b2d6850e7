package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"medcoder/pkg/types"
)

// SQLiteStore implements Store on an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:"
// works for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: enable foreign keys: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS cases (
	case_id      TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	completed_at DATETIME,
	final_state  TEXT
);

CREATE TABLE IF NOT EXISTS case_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id    TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp  DATETIME NOT NULL,
	payload    TEXT,
	FOREIGN KEY (case_id) REFERENCES cases(case_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_case_events_case_id ON case_events(case_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCase(ctx context.Context, rec CaseRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (case_id, status, submitted_at) VALUES (?, ?, ?)
		 ON CONFLICT(case_id) DO UPDATE SET status = excluded.status`,
		rec.CaseID, string(rec.Status), rec.SubmittedAt.UTC())
	if err != nil {
		return fmt.Errorf("database: save case %s: %w", rec.CaseID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCaseStatus(ctx context.Context, caseID string, status types.CaseStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = ? WHERE case_id = ?`, string(status), caseID)
	if err != nil {
		return fmt.Errorf("database: update status for %s: %w", caseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveFinalState(ctx context.Context, caseID string, state *types.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("database: marshal final state for %s: %w", caseID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = ?, completed_at = ?, final_state = ? WHERE case_id = ?`,
		string(state.CaseMeta.Status), time.Now().UTC(), string(data), caseID)
	if err != nil {
		return fmt.Errorf("database: save final state for %s: %w", caseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*CaseRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT case_id, status, submitted_at, completed_at, final_state
		 FROM cases WHERE case_id = ?`, caseID)
	return scanCase(row)
}

func (s *SQLiteStore) ListCases(ctx context.Context, limit int) ([]CaseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, status, submitted_at, completed_at, final_state
		 FROM cases ORDER BY submitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("database: list cases: %w", err)
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event CaseEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_events (case_id, event_type, timestamp, payload) VALUES (?, ?, ?, ?)`,
		event.CaseID, event.EventType, event.Timestamp.UTC(), event.Payload)
	if err != nil {
		return fmt.Errorf("database: append event for %s: %w", event.CaseID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCaseEvents(ctx context.Context, caseID string) ([]CaseEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, event_type, timestamp, payload
		 FROM case_events WHERE case_id = ? ORDER BY id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("database: events for %s: %w", caseID, err)
	}
	defer rows.Close()

	var out []CaseEvent
	for rows.Next() {
		var e CaseEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.CaseID, &e.EventType, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("database: scan event: %w", err)
		}
		e.Payload = payload.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*CaseRecord, error) {
	var rec CaseRecord
	var status string
	var completedAt sql.NullTime
	var finalState sql.NullString

	err := row.Scan(&rec.CaseID, &status, &rec.SubmittedAt, &completedAt, &finalState)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: scan case: %w", err)
	}
	rec.Status = types.CaseStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if finalState.Valid && finalState.String != "" {
		var st types.WorkflowState
		if err := json.Unmarshal([]byte(finalState.String), &st); err != nil {
			return nil, fmt.Errorf("database: unmarshal final state for %s: %w", rec.CaseID, err)
		}
		rec.FinalState = &st
	}
	return &rec, nil
}
