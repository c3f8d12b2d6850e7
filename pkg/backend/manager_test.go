package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcoder/internal/llm"
	"medcoder/internal/llmtypes"
	"medcoder/pkg/events"
	"medcoder/pkg/logger"
	"medcoder/pkg/types"
)

type fakeModel struct {
	endpoint   string
	deployment string
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llmtypes.Message, _ ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	return &llmtypes.ContentResponse{Choices: []*llmtypes.ContentChoice{{Content: "{}"}}}, nil
}

func newTestManager(t *testing.T, withSecondary bool) (*Manager, *int) {
	t.Helper()

	primary := Endpoint{URL: "https://primary.openai.azure.com", APIKey: "key-a"}
	var secondary *Endpoint
	if withSecondary {
		secondary = &Endpoint{URL: "https://secondary.openai.azure.com", APIKey: "key-b"}
	}

	m, err := NewManager(primary, secondary, logger.CreateTestLogger(), nil)
	require.NoError(t, err)

	calls := 0
	m.SetClientFactory(func(cfg llm.EndpointConfig) (llmtypes.Model, error) {
		calls++
		return &fakeModel{endpoint: cfg.URL, deployment: cfg.Deployment}, nil
	})
	return m, &calls
}

func TestNewManagerRequiresPrimary(t *testing.T) {
	log := logger.CreateTestLogger()

	_, err := NewManager(Endpoint{URL: "", APIKey: "k"}, nil, log, nil)
	assert.Error(t, err)

	_, err = NewManager(Endpoint{URL: "https://x", APIKey: ""}, nil, log, nil)
	assert.Error(t, err)
}

func TestAssignmentDefaults(t *testing.T) {
	m, _ := newTestManager(t, true)

	tests := []struct {
		stage      string
		endpoint   string
		deployment string
	}{
		{types.StageProcedureCoding, EndpointA, "gpt-4o"},
		{types.StageDiagnosisCoding, EndpointA, "gpt-4o-mini"},
		{types.StageCoveragePolicy, EndpointB, "gpt-4o-mini"},
		{types.StageValueUnits, EndpointB, "gpt-4o-mini"},
		{"some_unknown_stage", EndpointA, defaultDeployment},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			a, err := m.GetAssignedBackend(tt.stage)
			require.NoError(t, err)
			assert.Equal(t, tt.endpoint, a.EndpointID)
			assert.Equal(t, tt.deployment, a.Deployment)
			assert.False(t, a.FailedOver)
			assert.NotNil(t, a.Client)
		})
	}
}

func TestFailoverAfterThreeFailuresAndResetOnPrimarySuccess(t *testing.T) {
	m, _ := newTestManager(t, true)
	stage := types.StageProcedureCoding

	m.RecordFailure(stage, errors.New("rate limited"))
	m.RecordFailure(stage, errors.New("rate limited"))

	a, err := m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.Equal(t, EndpointA, a.EndpointID)
	assert.False(t, a.FailedOver)

	m.RecordFailure(stage, errors.New("rate limited"))

	a, err = m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.Equal(t, EndpointB, a.EndpointID)
	assert.True(t, a.FailedOver)
	assert.Equal(t, "https://secondary.openai.azure.com", a.EndpointURL)

	// Success on the fallback endpoint does not clear the window.
	m.RecordSuccess(stage, EndpointB)
	a, err = m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.True(t, a.FailedOver)

	// Success on the stage's primary endpoint does.
	m.RecordSuccess(stage, EndpointA)
	a, err = m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.Equal(t, EndpointA, a.EndpointID)
	assert.False(t, a.FailedOver)
}

func TestFailureWindowDecays(t *testing.T) {
	m, _ := newTestManager(t, true)
	stage := types.StageModifierAssignment

	var mu sync.Mutex
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	for i := 0; i < 3; i++ {
		m.RecordFailure(stage, errors.New("timeout"))
	}
	a, err := m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.True(t, a.FailedOver)

	mu.Lock()
	current = current.Add(6 * time.Minute)
	mu.Unlock()

	a, err = m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.Equal(t, EndpointA, a.EndpointID)
	assert.False(t, a.FailedOver)
	assert.Zero(t, m.GetAssignmentStatus()[stage].RecentFailures)
}

func TestMissingSecondaryTolerated(t *testing.T) {
	m, _ := newTestManager(t, false)

	// Stages routed to B collapse to the primary.
	a, err := m.GetAssignedBackend(types.StageCoveragePolicy)
	require.NoError(t, err)
	assert.Equal(t, EndpointA, a.EndpointID)

	// Crossing the threshold with no fallback keeps the primary assignment.
	stage := types.StageProcedureCoding
	for i := 0; i < 4; i++ {
		m.RecordFailure(stage, errors.New("boom"))
	}
	a, err = m.GetAssignedBackend(stage)
	require.NoError(t, err)
	assert.Equal(t, EndpointA, a.EndpointID)
	assert.False(t, a.FailedOver)

	summary := m.GetHealthSummary()
	assert.False(t, summary.SecondaryConfigured)
	assert.Equal(t, "https://primary.openai.azure.com", summary.PrimaryURL)
}

func TestClientsCachedPerEndpointAndDeployment(t *testing.T) {
	m, calls := newTestManager(t, true)

	_, err := m.GetAssignedBackend(types.StageProcedureCoding)
	require.NoError(t, err)
	_, err = m.GetAssignedBackend(types.StageProcedureCoding)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)

	// Same endpoint, different deployment builds a second client.
	_, err = m.GetAssignedBackend(types.StageDiagnosisCoding)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestFailoverEmitsEvent(t *testing.T) {
	primary := Endpoint{URL: "https://primary.openai.azure.com", APIKey: "key-a"}
	secondary := &Endpoint{URL: "https://secondary.openai.azure.com", APIKey: "key-b"}

	dispatcher := events.NewDispatcher()
	var got []events.EventData
	dispatcher.Register(events.ListenerFunc(func(e events.Event) {
		got = append(got, e.Data)
	}))

	m, err := NewManager(primary, secondary, logger.CreateTestLogger(), dispatcher)
	require.NoError(t, err)
	m.SetClientFactory(func(cfg llm.EndpointConfig) (llmtypes.Model, error) {
		return &fakeModel{}, nil
	})

	stage := types.StageCompliance
	for i := 0; i < 3; i++ {
		m.RecordFailure(stage, errors.New("503"))
	}

	require.Len(t, got, 1)
	fo, ok := got[0].(events.BackendFailoverEvent)
	require.True(t, ok)
	assert.Equal(t, stage, fo.Stage)
	assert.Equal(t, EndpointA, fo.FromEndpoint)
	assert.Equal(t, EndpointB, fo.ToEndpoint)
	assert.Equal(t, 3, fo.FailureCount)

	// A fourth failure stays inside the window without a second event.
	m.RecordFailure(stage, errors.New("503"))
	assert.Len(t, got, 1)
}

func TestResetAllFailures(t *testing.T) {
	m, _ := newTestManager(t, true)

	for _, stage := range []string{types.StageProcedureCoding, types.StageValueUnits} {
		for i := 0; i < 3; i++ {
			m.RecordFailure(stage, errors.New("x"))
		}
	}
	m.ResetAllFailures()

	for stage, status := range m.GetAssignmentStatus() {
		assert.Zero(t, status.RecentFailures, stage)
		assert.False(t, status.FailedOver, stage)
	}
}
