// Package backend routes workflow stages to remote-model endpoints and
// flips a stage to its fallback endpoint when the primary keeps failing.
package backend

import (
	"fmt"
	"os"
	"sync"
	"time"

	"medcoder/internal/llm"
	"medcoder/internal/llmtypes"
	"medcoder/internal/utils"
	"medcoder/pkg/events"
	"medcoder/pkg/types"
)

// Endpoint identifiers. A is the required primary pool member, B the
// optional secondary.
const (
	EndpointA = "A"
	EndpointB = "B"
)

const (
	failureWindow     = 5 * time.Minute
	failureThreshold  = 3
	defaultDeployment = "gpt-4o"
)

// Endpoint is one remote-model endpoint in the pool.
type Endpoint struct {
	ID         string
	URL        string
	APIKey     string
	APIVersion string
}

// Assignment is the resolved backend for one stage call.
type Assignment struct {
	Stage       string
	EndpointID  string
	EndpointURL string
	Deployment  string
	Client      llmtypes.Model
	FailedOver  bool
}

// StageStatus describes a stage's current routing for status endpoints.
type StageStatus struct {
	EndpointID     string `json:"endpoint_id"`
	Deployment     string `json:"deployment"`
	FailedOver     bool   `json:"failed_over"`
	RecentFailures int    `json:"recent_failures"`
}

// Summary is the health snapshot returned by GetHealthSummary.
type Summary struct {
	PrimaryURL          string                 `json:"primary_url"`
	SecondaryConfigured bool                   `json:"secondary_configured"`
	Stages              map[string]StageStatus `json:"stages"`
	GeneratedAt         time.Time              `json:"generated_at"`
}

type route struct {
	endpointID string
	deployment string
}

// Coding and modifier stages need the stronger deployment; the lookup-heavy
// stages run on the lighter one, on the secondary pool member when present.
var stageRoutes = map[string]route{
	types.StageProcedureCoding:    {EndpointA, "gpt-4o"},
	types.StageDiagnosisCoding:    {EndpointA, "gpt-4o-mini"},
	types.StageCompliance:         {EndpointA, "gpt-4o-mini"},
	types.StageCoveragePolicy:     {EndpointB, "gpt-4o-mini"},
	types.StageModifierAssignment: {EndpointA, "gpt-4o"},
	types.StageValueUnits:         {EndpointB, "gpt-4o-mini"},
}

// Manager assigns stages to endpoints and tracks per-stage failures in a
// sliding window. Safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	endpoints  map[string]Endpoint
	clients    map[string]llmtypes.Model
	failures   map[string][]time.Time
	logger     utils.ExtendedLogger
	dispatcher *events.Dispatcher
	now        func() time.Time
	newClient  func(llm.EndpointConfig) (llmtypes.Model, error)
}

// NewManagerFromEnv builds a manager from MODEL_ENDPOINT, MODEL_API_KEY,
// MODEL_ENDPOINT_2, MODEL_API_KEY_2 and MODEL_API_VERSION.
func NewManagerFromEnv(logger utils.ExtendedLogger, dispatcher *events.Dispatcher) (*Manager, error) {
	primary := Endpoint{
		ID:         EndpointA,
		URL:        os.Getenv("MODEL_ENDPOINT"),
		APIKey:     os.Getenv("MODEL_API_KEY"),
		APIVersion: os.Getenv("MODEL_API_VERSION"),
	}
	var secondary *Endpoint
	if url := os.Getenv("MODEL_ENDPOINT_2"); url != "" {
		secondary = &Endpoint{
			ID:         EndpointB,
			URL:        url,
			APIKey:     os.Getenv("MODEL_API_KEY_2"),
			APIVersion: os.Getenv("MODEL_API_VERSION"),
		}
	}
	return NewManager(primary, secondary, logger, dispatcher)
}

// NewManager builds a manager over an explicit endpoint pool. The primary
// endpoint must carry both URL and key; secondary is optional and its
// absence only removes the failover target.
func NewManager(primary Endpoint, secondary *Endpoint, logger utils.ExtendedLogger, dispatcher *events.Dispatcher) (*Manager, error) {
	if primary.URL == "" || primary.APIKey == "" {
		return nil, fmt.Errorf("backend: primary endpoint requires MODEL_ENDPOINT and MODEL_API_KEY")
	}
	primary.ID = EndpointA

	m := &Manager{
		endpoints:  map[string]Endpoint{EndpointA: primary},
		clients:    make(map[string]llmtypes.Model),
		failures:   make(map[string][]time.Time),
		logger:     logger,
		dispatcher: dispatcher,
		now:        time.Now,
		newClient: func(cfg llm.EndpointConfig) (llmtypes.Model, error) {
			return llm.NewModelClient(cfg, logger)
		},
	}
	if secondary != nil && secondary.URL != "" {
		sec := *secondary
		sec.ID = EndpointB
		m.endpoints[EndpointB] = sec
	} else {
		logger.Warn("backend: no secondary endpoint configured, failover unavailable")
	}
	return m, nil
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetClientFactory overrides model-client construction. Tests only.
func (m *Manager) SetClientFactory(f func(llm.EndpointConfig) (llmtypes.Model, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newClient = f
	m.clients = make(map[string]llmtypes.Model)
}

// GetAssignedBackend resolves the endpoint, deployment and client for a
// stage, honoring any active failover.
func (m *Manager) GetAssignedBackend(stage string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.routeFor(stage)
	assignedID := r.endpointID
	failedOver := false

	if m.recentFailuresLocked(stage) >= failureThreshold {
		if alt, ok := m.alternateLocked(assignedID); ok {
			assignedID = alt
			failedOver = true
		}
	}

	ep := m.endpoints[assignedID]
	client, err := m.clientLocked(ep, r.deployment)
	if err != nil {
		return nil, fmt.Errorf("backend: build client for stage %s on endpoint %s: %w", stage, assignedID, err)
	}

	return &Assignment{
		Stage:       stage,
		EndpointID:  assignedID,
		EndpointURL: ep.URL,
		Deployment:  r.deployment,
		Client:      client,
		FailedOver:  failedOver,
	}, nil
}

// RecordSuccess clears the stage's failure window when the success landed
// on the stage's assigned primary endpoint.
func (m *Manager) RecordSuccess(stage, endpointID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if endpointID != m.routeFor(stage).endpointID {
		return
	}
	wasFailedOver := m.recentFailuresLocked(stage) >= failureThreshold
	delete(m.failures, stage)
	if wasFailedOver {
		m.logger.Infof("✅ Backend recovered for stage %s on endpoint %s", stage, endpointID)
		m.dispatcher.Emit(events.BackendRecoveredEvent{
			BaseEventData: events.NewBase("", "", "backend"),
			Stage:         stage,
			Endpoint:      endpointID,
		})
	}
}

// RecordFailure appends a failure for the stage and announces failover when
// the window crosses the threshold.
func (m *Manager) RecordFailure(stage string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.recentFailuresLocked(stage)
	m.failures[stage] = append(m.failures[stage], m.now())
	count := before + 1

	m.logger.WithField("stage", stage).
		WithError(err).
		Warnf("backend failure %d/%d in window", count, failureThreshold)

	if count != failureThreshold {
		return
	}
	from := m.routeFor(stage).endpointID
	to, ok := m.alternateLocked(from)
	if !ok {
		m.logger.Errorf("backend: stage %s exceeded failure threshold but no fallback endpoint is configured", stage)
		return
	}
	m.logger.Warnf("🔀 Backend failover for stage %s: %s -> %s", stage, from, to)
	m.dispatcher.Emit(events.BackendFailoverEvent{
		BaseEventData: events.NewBase("", "", "backend"),
		Stage:         stage,
		FromEndpoint:  from,
		ToEndpoint:    to,
		FailureCount:  count,
	})
}

// GetAssignmentStatus reports the current routing per known stage.
func (m *Manager) GetAssignmentStatus() map[string]StageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]StageStatus, len(stageRoutes))
	for stage := range stageRoutes {
		status[stage] = m.stageStatusLocked(stage)
	}
	return status
}

// GetHealthSummary reports pool configuration plus per-stage routing.
func (m *Manager) GetHealthSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, hasSecondary := m.endpoints[EndpointB]
	s := Summary{
		PrimaryURL:          m.endpoints[EndpointA].URL,
		SecondaryConfigured: hasSecondary,
		Stages:              make(map[string]StageStatus, len(stageRoutes)),
		GeneratedAt:         m.now().UTC(),
	}
	for stage := range stageRoutes {
		s.Stages[stage] = m.stageStatusLocked(stage)
	}
	return s
}

// ResetAllFailures clears every stage's failure window.
func (m *Manager) ResetAllFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string][]time.Time)
	m.logger.Info("backend: all failure windows reset")
}

func (m *Manager) routeFor(stage string) route {
	r, ok := stageRoutes[stage]
	if !ok {
		r = route{EndpointA, defaultDeployment}
	}
	// Routes pointing at a missing secondary collapse to the primary.
	if _, ok := m.endpoints[r.endpointID]; !ok {
		r.endpointID = EndpointA
	}
	return r
}

func (m *Manager) alternateLocked(endpointID string) (string, bool) {
	alt := EndpointB
	if endpointID == EndpointB {
		alt = EndpointA
	}
	_, ok := m.endpoints[alt]
	return alt, ok
}

// recentFailuresLocked prunes entries older than the window and returns the
// count that remains.
func (m *Manager) recentFailuresLocked(stage string) int {
	cutoff := m.now().Add(-failureWindow)
	kept := m.failures[stage][:0]
	for _, ts := range m.failures[stage] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(m.failures, stage)
	} else {
		m.failures[stage] = kept
	}
	return len(kept)
}

func (m *Manager) clientLocked(ep Endpoint, deployment string) (llmtypes.Model, error) {
	key := ep.ID + "/" + deployment
	if c, ok := m.clients[key]; ok {
		return c, nil
	}
	c, err := m.newClient(llm.EndpointConfig{
		URL:        ep.URL,
		APIKey:     ep.APIKey,
		APIVersion: ep.APIVersion,
		Deployment: deployment,
	})
	if err != nil {
		return nil, err
	}
	m.clients[key] = c
	return c, nil
}

func (m *Manager) stageStatusLocked(stage string) StageStatus {
	r := m.routeFor(stage)
	failures := m.recentFailuresLocked(stage)
	assigned := r.endpointID
	failedOver := false
	if failures >= failureThreshold {
		if alt, ok := m.alternateLocked(assigned); ok {
			assigned = alt
			failedOver = true
		}
	}
	return StageStatus{
		EndpointID:     assigned,
		Deployment:     r.deployment,
		FailedOver:     failedOver,
		RecentFailures: failures,
	}
}
