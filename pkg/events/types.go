package events

import (
	"time"

	"medcoder/pkg/types"
)

// EventType enumerates every event the pipeline emits.
type EventType string

const (
	// Workflow events
	WorkflowStart EventType = "workflow_start"
	WorkflowEnd   EventType = "workflow_end"
	WorkflowError EventType = "workflow_error"

	// Stage events
	StageStart EventType = "stage_start"
	StageEnd   EventType = "stage_end"
	StageError EventType = "stage_error"
	StageRetry EventType = "stage_retry"
	StageSkip  EventType = "stage_skip"

	// State events
	StateMerge EventType = "state_merge"

	// Backend events
	BackendFailover  EventType = "backend_failover"
	BackendRecovered EventType = "backend_recovered"

	// Model events
	ModelCallStart EventType = "model_call_start"
	ModelCallEnd   EventType = "model_call_end"
	ModelCallError EventType = "model_call_error"
)

// EventData is implemented by every event payload.
type EventData interface {
	GetEventType() EventType
}

// BaseEventData carries the fields common to all events.
type BaseEventData struct {
	Timestamp     time.Time `json:"timestamp"`
	CaseID        string    `json:"case_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Component     string    `json:"component,omitempty"`
}

// NewBase stamps a base with the current time.
func NewBase(caseID, correlationID, component string) BaseEventData {
	return BaseEventData{
		Timestamp:     time.Now().UTC(),
		CaseID:        caseID,
		CorrelationID: correlationID,
		Component:     component,
	}
}

// Event is the envelope handed to listeners.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	CaseID    string    `json:"case_id,omitempty"`
	Data      EventData `json:"data"`
}

type WorkflowStartEvent struct {
	BaseEventData
	StageCount int `json:"stage_count"`
}

func (e WorkflowStartEvent) GetEventType() EventType { return WorkflowStart }

type WorkflowEndEvent struct {
	BaseEventData
	Status     types.CaseStatus `json:"status"`
	DurationMs int64            `json:"duration_ms"`
	Completed  []string         `json:"completed,omitempty"`
}

func (e WorkflowEndEvent) GetEventType() EventType { return WorkflowEnd }

type WorkflowErrorEvent struct {
	BaseEventData
	Error string `json:"error"`
}

func (e WorkflowErrorEvent) GetEventType() EventType { return WorkflowError }

type StageStartEvent struct {
	BaseEventData
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
}

func (e StageStartEvent) GetEventType() EventType { return StageStart }

type StageEndEvent struct {
	BaseEventData
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
}

func (e StageEndEvent) GetEventType() EventType { return StageEnd }

type StageErrorEvent struct {
	BaseEventData
	Stage    string              `json:"stage"`
	Attempt  int                 `json:"attempt"`
	Error    string              `json:"error"`
	Severity types.ErrorSeverity `json:"severity,omitempty"`
}

func (e StageErrorEvent) GetEventType() EventType { return StageError }

type StageRetryEvent struct {
	BaseEventData
	Stage       string `json:"stage"`
	NextAttempt int    `json:"next_attempt"`
	BackoffMs   int    `json:"backoff_ms"`
}

func (e StageRetryEvent) GetEventType() EventType { return StageRetry }

type StageSkipEvent struct {
	BaseEventData
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func (e StageSkipEvent) GetEventType() EventType { return StageSkip }

type StateMergeEvent struct {
	BaseEventData
	Stage       string `json:"stage"`
	DiffSummary string `json:"diff_summary"`
	Version     int    `json:"version"`
}

func (e StateMergeEvent) GetEventType() EventType { return StateMerge }

type BackendFailoverEvent struct {
	BaseEventData
	Stage        string `json:"stage"`
	FromEndpoint string `json:"from_endpoint"`
	ToEndpoint   string `json:"to_endpoint"`
	FailureCount int    `json:"failure_count"`
}

func (e BackendFailoverEvent) GetEventType() EventType { return BackendFailover }

type BackendRecoveredEvent struct {
	BaseEventData
	Stage    string `json:"stage"`
	Endpoint string `json:"endpoint"`
}

func (e BackendRecoveredEvent) GetEventType() EventType { return BackendRecovered }

type ModelCallStartEvent struct {
	BaseEventData
	Stage         string `json:"stage"`
	Endpoint      string `json:"endpoint"`
	Deployment    string `json:"deployment,omitempty"`
	PromptSummary string `json:"prompt_summary,omitempty"`
}

func (e ModelCallStartEvent) GetEventType() EventType { return ModelCallStart }

type ModelCallEndEvent struct {
	BaseEventData
	Stage      string `json:"stage"`
	Endpoint   string `json:"endpoint"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ModelCallEndEvent) GetEventType() EventType { return ModelCallEnd }

type ModelCallErrorEvent struct {
	BaseEventData
	Stage      string `json:"stage"`
	Endpoint   string `json:"endpoint"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error"`
}

func (e ModelCallErrorEvent) GetEventType() EventType { return ModelCallError }
