// Package state owns the per-case workflow state. All mutation goes
// through the Manager: stages read deep-copied snapshots and the
// orchestrator applies their results one merge at a time.
package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"medcoder/internal/utils"
	"medcoder/pkg/events"
	"medcoder/pkg/types"
)

// Manager serializes access to one case's workflow state.
type Manager struct {
	mu         sync.Mutex
	state      *types.WorkflowState
	logger     utils.ExtendedLogger
	dispatcher *events.Dispatcher
	clock      func() time.Time
}

// NewManager wraps an initial state. The manager takes ownership; callers
// must not retain the pointer.
func NewManager(initial *types.WorkflowState, logger utils.ExtendedLogger, dispatcher *events.Dispatcher) *Manager {
	return &Manager{
		state:      initial,
		logger:     logger,
		dispatcher: dispatcher,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests use this to pin timestamps.
func (m *Manager) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// Snapshot returns a deep copy of the current state.
func (m *Manager) Snapshot() *types.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// touch advances UpdatedAt without ever moving it backwards.
func (m *Manager) touch() {
	now := m.clock()
	if now.After(m.state.UpdatedAt) {
		m.state.UpdatedAt = now
	}
	m.state.Version++
}

// Merge applies a successful stage result: append evidence, record one
// history entry, overwrite the well-known structured payloads, mark the
// step completed, and bump UpdatedAt.
func (m *Manager) Merge(step string, result *types.AgentResult) error {
	if result == nil {
		return fmt.Errorf("merge %s: nil result", step)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []string

	for i := range result.Evidence {
		result.Evidence[i].ClampConfidence()
	}
	if len(result.Evidence) > 0 {
		m.state.Evidence = append(m.state.Evidence, result.Evidence...)
		changed = append(changed, fmt.Sprintf("evidence+%d", len(result.Evidence)))
	}

	if d := result.Data; d != nil {
		if d.CandidateProcedures != nil {
			m.state.CandidateProcedures = d.CandidateProcedures
			changed = append(changed, fmt.Sprintf("candidates=%d", len(d.CandidateProcedures)))
		}
		if d.Procedures != nil {
			m.state.Procedures = d.Procedures
			changed = append(changed, fmt.Sprintf("procedures=%d", len(d.Procedures)))
		}
		if d.Diagnoses != nil {
			m.state.Diagnoses = d.Diagnoses
			changed = append(changed, fmt.Sprintf("diagnoses=%d", len(d.Diagnoses)))
		}
		if d.Compliance != nil {
			m.state.Compliance = d.Compliance
			changed = append(changed, fmt.Sprintf("compliance=%s", d.Compliance.Summary.Status))
		}
		if d.Coverage != nil {
			m.state.Coverage = d.Coverage
			changed = append(changed, fmt.Sprintf("coverage=%d", len(d.Coverage.Decisions)))
		}
		if d.RVU != nil {
			m.state.RVU = d.RVU
			changed = append(changed, fmt.Sprintf("rvu=%.2f", d.RVU.TotalRVU))
		}
		if d.FinalModifiers != nil {
			m.state.FinalModifiers = d.FinalModifiers
			changed = append(changed, fmt.Sprintf("modifiers=%d", len(d.FinalModifiers)))
		}
		if d.LineItems != nil {
			m.state.LineItems = d.LineItems
			changed = append(changed, fmt.Sprintf("lines=%d", len(d.LineItems)))
		}
	}

	for i := range result.Errors {
		m.state.Errors = append(m.state.Errors, result.Errors[i])
	}

	if m.state.AgentResults == nil {
		m.state.AgentResults = make(map[string]*types.AgentResult)
	}
	m.state.AgentResults[step] = result

	historyResult := types.HistorySuccess
	if !result.Success {
		historyResult = types.HistoryWarning
	}
	m.state.History = append(m.state.History, types.HistoryEntry{
		AgentName: result.Metadata.AgentName,
		Timestamp: m.clock(),
		Action:    fmt.Sprintf("merged %s result", step),
		Result:    historyResult,
		Details:   strings.Join(changed, " "),
	})

	if !m.state.HasCompletedStep(step) {
		m.state.CompletedSteps = append(m.state.CompletedSteps, step)
	}
	m.touch()

	diff := strings.Join(changed, " ")
	if diff == "" {
		diff = "no structured changes"
	}
	m.logger.WithFields(map[string]interface{}{
		"case_id": m.state.CaseMeta.CaseID,
		"step":    step,
		"version": m.state.Version,
	}).Infof("🧩 State merge: %s", diff)

	m.dispatcher.Emit(events.StateMergeEvent{
		BaseEventData: events.NewBase(m.state.CaseMeta.CaseID, "", "state"),
		Stage:         step,
		DiffSummary:   diff,
		Version:       m.state.Version,
	})
	return nil
}

// RecordFailure appends the error and a failure history entry. The step is
// not marked completed.
func (m *Manager) RecordFailure(step, agentName string, perr *types.ProcessingError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Errors = append(m.state.Errors, *perr)
	m.state.History = append(m.state.History, types.HistoryEntry{
		AgentName: agentName,
		Timestamp: m.clock(),
		Action:    fmt.Sprintf("stage %s failed", step),
		Result:    types.HistoryFailure,
		Details:   perr.Message,
	})
	if perr.Severity == types.ErrorCritical {
		m.state.CaseMeta.Status = types.CaseError
	}
	m.touch()
}

// RecordSkip marks a stage skipped because a dependency failed.
func (m *Manager) RecordSkip(step, agentName, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.History = append(m.state.History, types.HistoryEntry{
		AgentName: agentName,
		Timestamp: m.clock(),
		Action:    fmt.Sprintf("stage %s skipped", step),
		Result:    types.HistorySkipped,
		Details:   reason,
	})
	m.touch()
}

// SetCurrentStep records the step the orchestrator is dispatching.
func (m *Manager) SetCurrentStep(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentStep = step
	m.touch()
}

// SetStatus transitions the case processing status.
func (m *Manager) SetStatus(status types.CaseStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A case that already errored stays errored.
	if m.state.CaseMeta.Status == types.CaseError && status == types.CaseCompleted {
		return
	}
	m.state.CaseMeta.Status = status
	m.touch()
}

// Final hands the owned state back once the run is over.
func (m *Manager) Final() *types.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentStep = ""
	return m.state
}
