// Package database persists submitted cases, their final workflow states,
// and the event log per case. The server consumes it; the pipeline itself
// never touches persistence.
package database

import (
	"context"
	"errors"
	"time"

	"medcoder/pkg/types"
)

// ErrCaseNotFound marks a lookup for an unknown case id.
var ErrCaseNotFound = errors.New("database: case not found")

// CaseRecord is one persisted case row.
type CaseRecord struct {
	CaseID      string           `json:"case_id"`
	Status      types.CaseStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`

	// FinalState is the serialized workflow state, set once processing
	// finishes.
	FinalState *types.WorkflowState `json:"final_state,omitempty"`
}

// CaseEvent is one append-only event row for a case.
type CaseEvent struct {
	ID        int64     `json:"id"`
	CaseID    string    `json:"case_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload,omitempty"`
}

// Store is the persistence contract consumed by the server.
type Store interface {
	SaveCase(ctx context.Context, rec CaseRecord) error
	UpdateCaseStatus(ctx context.Context, caseID string, status types.CaseStatus) error
	SaveFinalState(ctx context.Context, caseID string, state *types.WorkflowState) error
	GetCase(ctx context.Context, caseID string) (*CaseRecord, error)
	ListCases(ctx context.Context, limit int) ([]CaseRecord, error)

	AppendEvent(ctx context.Context, event CaseEvent) error
	GetCaseEvents(ctx context.Context, caseID string) ([]CaseEvent, error)

	Close() error
}
