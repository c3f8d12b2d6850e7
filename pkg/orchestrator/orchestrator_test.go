package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcoder/pkg/events"
	"medcoder/pkg/logger"
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/types"
)

// recorder collects stage execution order across goroutines.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// testAgent is a scriptable stage for scheduler tests.
type testAgent struct {
	name string
	exec func(ctx context.Context, actx *agents.AgentContext) (*types.AgentResult, error)
}

func (a *testAgent) Name() string               { return a.name }
func (a *testAgent) Description() string        { return "test stage" }
func (a *testAgent) RequiredServices() []string { return nil }
func (a *testAgent) Execute(ctx context.Context, actx *agents.AgentContext) (*types.AgentResult, error) {
	return a.exec(ctx, actx)
}

func okAgent(name string, rec *recorder) *testAgent {
	return &testAgent{name: name, exec: func(context.Context, *agents.AgentContext) (*types.AgentResult, error) {
		if rec != nil {
			rec.record(name)
		}
		return &types.AgentResult{Success: true, Data: &types.AgentData{}}, nil
	}}
}

func failingAgent(name string, err error) *testAgent {
	return &testAgent{name: name, exec: func(context.Context, *agents.AgentContext) (*types.AgentResult, error) {
		return nil, err
	}}
}

func newTestOrchestrator(t *testing.T, cfg *Config) *Orchestrator {
	t.Helper()
	o := New(logger.CreateTestLogger(), events.NewDispatcher())
	if cfg != nil {
		require.NoError(t, o.Configure(cfg))
	}
	return o
}

func testInitialState() *types.WorkflowState {
	return types.NewWorkflowState(
		types.CaseMetadata{CaseID: "case-orch", ClaimKind: types.ClaimPrimary},
		types.Demographics{},
		types.CaseNotes{Primary: "note"},
	)
}

func serialConfig() *Config {
	return NewConfig().SetMaxConcurrentJobs(1).SetBackoffMs(1)
}

func TestRunExecutesDependenciesInOrder(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, serialConfig())
	require.NoError(t, o.Register("a", okAgent("a", rec), nil, 1, 0, false))
	require.NoError(t, o.Register("b", okAgent("b", rec), []string{"a"}, 1, 0, false))
	require.NoError(t, o.Register("c", okAgent("c", rec), []string{"b"}, 1, 0, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, rec.snapshot())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, final.CompletedSteps)
	assert.Equal(t, types.CaseCompleted, final.CaseMeta.Status)
}

func TestRunPrefersPriorityThenRegistrationOrder(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, serialConfig())
	require.NoError(t, o.Register("first-five", okAgent("first-five", rec), nil, 5, 0, false))
	require.NoError(t, o.Register("high", okAgent("high", rec), nil, 10, 0, false))
	require.NoError(t, o.Register("second-five", okAgent("second-five", rec), nil, 5, 0, false))

	_, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "first-five", "second-five"}, rec.snapshot())
}

func TestRunRetriesRetryableFailures(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	flaky := &testAgent{name: "flaky", exec: func(context.Context, *agents.AgentContext) (*types.AgentResult, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, types.NewProcessingError("flaky", types.KindExternalAPI, types.ErrorMedium, "transient 503")
		}
		return &types.AgentResult{Success: true, Data: &types.AgentData{}}, nil
	}}

	o := newTestOrchestrator(t, serialConfig().SetMaxRetries(2))
	require.NoError(t, o.Register("flaky", flaky, nil, 1, 0, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, final.CompletedSteps, "flaky")
}

func TestRunDoesNotRetryCriticalFailures(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	broken := &testAgent{name: "broken", exec: func(context.Context, *agents.AgentContext) (*types.AgentResult, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, types.NewProcessingError("broken", types.KindValidation, types.ErrorCritical, "unrecoverable")
	}}

	o := newTestOrchestrator(t, serialConfig().SetMaxRetries(3))
	require.NoError(t, o.Register("broken", broken, nil, 1, 0, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.ErrorIs(t, err, ErrRunAborted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, types.CaseError, final.CaseMeta.Status)
	assert.True(t, final.HasCriticalError())
}

func TestRunContinuePolicySkipsDependentsOnly(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, serialConfig())
	require.NoError(t, o.Register("bad", failingAgent("bad",
		types.NewProcessingError("bad", types.KindValidation, types.ErrorHigh, "wrong shape")), nil, 9, 0, false))
	require.NoError(t, o.Register("child", okAgent("child", rec), []string{"bad"}, 5, 0, false))
	require.NoError(t, o.Register("independent", okAgent("independent", rec), nil, 1, 0, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.NoError(t, err)

	assert.Equal(t, []string{"independent"}, rec.snapshot())
	assert.Equal(t, []string{"independent"}, final.CompletedSteps)
	// The failure is on the record but not critical, so the run completes.
	assert.Equal(t, types.CaseCompleted, final.CaseMeta.Status)
	require.NotEmpty(t, final.Errors)
	assert.Equal(t, types.ErrorHigh, final.Errors[0].Severity)
}

func TestRunOptionalStageFailureDoesNotBlockDependents(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, serialConfig())
	require.NoError(t, o.Register("extra", failingAgent("extra",
		types.NewProcessingError("extra", types.KindValidation, types.ErrorHigh, "no data")), nil, 9, 0, true))
	require.NoError(t, o.Register("child", okAgent("child", rec), []string{"extra"}, 5, 0, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.NoError(t, err)

	assert.Equal(t, []string{"child"}, rec.snapshot())
	assert.Contains(t, final.CompletedSteps, "child")
	assert.NotContains(t, final.CompletedSteps, "extra")
}

func TestRunFailFastDiscardsInflightWork(t *testing.T) {
	started := make(chan struct{})
	slow := &testAgent{name: "slow", exec: func(ctx context.Context, _ *agents.AgentContext) (*types.AgentResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	bad := &testAgent{name: "bad", exec: func(context.Context, *agents.AgentContext) (*types.AgentResult, error) {
		<-started
		return nil, types.NewProcessingError("bad", types.KindValidation, types.ErrorHigh, "hard stop")
	}}

	cfg := NewConfig().SetMaxConcurrentJobs(2).SetMaxRetries(0).SetBackoffMs(1).
		SetErrorPolicy(ErrorPolicyFailFast)
	o := newTestOrchestrator(t, cfg)
	require.NoError(t, o.Register("slow", slow, nil, 9, 0, false))
	require.NoError(t, o.Register("bad", bad, nil, 5, 0, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.ErrorIs(t, err, ErrRunAborted)

	// The cancelled attempt merges nothing and records nothing.
	assert.NotContains(t, final.CompletedSteps, "slow")
	assert.Equal(t, types.CaseError, final.CaseMeta.Status)
	for _, e := range final.Errors {
		assert.NotEqual(t, "slow", e.Source)
	}
}

func TestRunSkipsAlreadyCompletedSteps(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, serialConfig())
	require.NoError(t, o.Register("a", okAgent("a", rec), nil, 9, 0, false))
	require.NoError(t, o.Register("b", okAgent("b", rec), []string{"a"}, 5, 0, false))

	initial := testInitialState()
	initial.CompletedSteps = []string{"a"}

	final, err := o.Run(context.Background(), initial, agents.Services{})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, rec.snapshot())
	assert.ElementsMatch(t, []string{"a", "b"}, final.CompletedSteps)
}

func TestRunStageTimeoutIsRecorded(t *testing.T) {
	sleepy := &testAgent{name: "sleepy", exec: func(ctx context.Context, _ *agents.AgentContext) (*types.AgentResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return &types.AgentResult{Success: true, Data: &types.AgentData{}}, nil
		}
	}}

	o := newTestOrchestrator(t, serialConfig().SetMaxRetries(0))
	require.NoError(t, o.Register("sleepy", sleepy, nil, 1, 20, false))

	final, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.NoError(t, err)

	assert.NotContains(t, final.CompletedSteps, "sleepy")
	require.NotEmpty(t, final.Errors)
	assert.Equal(t, types.KindTimeout, final.Errors[0].Kind)
}

func TestRunRejectsUnknownDependency(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	require.NoError(t, o.Register("a", okAgent("a", nil), []string{"missing"}, 1, 0, false))

	_, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered")
}

func TestRunRejectsCycles(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	require.NoError(t, o.Register("a", okAgent("a", nil), []string{"b"}, 1, 0, false))
	require.NoError(t, o.Register("b", okAgent("b", nil), []string{"a"}, 1, 0, false))

	_, err := o.Run(context.Background(), testInitialState(), agents.Services{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestRunAllowsDependencyOnCompletedUnregisteredStep(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, serialConfig())
	require.NoError(t, o.Register("b", okAgent("b", rec), []string{"a"}, 1, 0, false))

	initial := testInitialState()
	initial.CompletedSteps = []string{"a"}

	final, err := o.Run(context.Background(), initial, agents.Services{})
	require.NoError(t, err)
	assert.Contains(t, final.CompletedSteps, "b")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	require.NoError(t, o.Register("a", okAgent("a", nil), nil, 1, 0, false))
	err := o.Register("a", okAgent("a", nil), nil, 1, 0, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want error
	}{
		{"zero concurrency", NewConfig().SetMaxConcurrentJobs(0), ErrInvalidConcurrency},
		{"zero timeout", NewConfig().SetDefaultTimeoutMs(0), ErrInvalidTimeout},
		{"negative retries", NewConfig().SetMaxRetries(-1), ErrInvalidRetries},
		{"negative backoff", NewConfig().SetBackoffMs(-1), ErrInvalidBackoff},
		{"bad policy", NewConfig().SetErrorPolicy("halt"), ErrInvalidErrorPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.True(t, errors.Is(err, tt.want) || err == tt.want)
		})
	}
	assert.NoError(t, NewConfig().Validate())

	o := newTestOrchestrator(t, nil)
	assert.Error(t, o.Configure(NewConfig().SetMaxConcurrentJobs(0)))
}
