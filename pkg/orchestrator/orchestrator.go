// Package orchestrator schedules the registered workflow stages as a DAG:
// dependencies first, up to a concurrency ceiling, with per-stage timeouts
// and orchestrator-driven retries. Stage results enter state through the
// state manager's merge protocol, one merge at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"medcoder/internal/utils"
	"medcoder/pkg/events"
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/state"
	"medcoder/pkg/types"
)

// ErrRunAborted is returned when a critical failure or fail-fast policy
// stopped the run before the DAG was exhausted.
var ErrRunAborted = errors.New("workflow run aborted")

// Orchestrator owns the stage registry and drives case runs. Register and
// Configure before the first Run; a single orchestrator serves many cases
// sequentially or concurrently (each Run keeps its own scheduler and state
// manager).
type Orchestrator struct {
	mu         sync.Mutex
	regs       map[string]*registration
	order      int
	config     *Config
	logger     utils.ExtendedLogger
	dispatcher *events.Dispatcher
}

// New creates an orchestrator with the default configuration.
func New(logger utils.ExtendedLogger, dispatcher *events.Dispatcher) *Orchestrator {
	return &Orchestrator{
		regs:       make(map[string]*registration),
		config:     NewConfig(),
		logger:     logger,
		dispatcher: dispatcher,
	}
}

// Register adds a stage to the DAG. timeoutMs zero means the configured
// default applies. Registration order breaks priority ties.
func (o *Orchestrator) Register(stage string, agent agents.Agent, deps []string, priority, timeoutMs int, optional bool) error {
	if stage == "" {
		return fmt.Errorf("orchestrator: stage name is empty")
	}
	if agent == nil {
		return fmt.Errorf("orchestrator: stage %s has no agent", stage)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.regs[stage]; exists {
		return fmt.Errorf("orchestrator: stage %s already registered", stage)
	}
	o.regs[stage] = &registration{
		stage:     stage,
		agent:     agent,
		deps:      append([]string(nil), deps...),
		priority:  priority,
		timeoutMs: timeoutMs,
		optional:  optional,
		order:     o.order,
	}
	o.order++
	return nil
}

// Configure replaces the orchestrator configuration.
func (o *Orchestrator) Configure(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
	return nil
}

// Run drives the DAG over the initial state and returns the final state.
// The state is always returned, aborted runs included; the error reports
// why the run stopped early. Steps the incoming state already completed are
// not re-run, so calling Run on a finished state is a no-op.
func (o *Orchestrator) Run(ctx context.Context, initial *types.WorkflowState, services agents.Services) (*types.WorkflowState, error) {
	o.mu.Lock()
	cfg := o.config
	regs := make(map[string]*registration, len(o.regs))
	for k, v := range o.regs {
		regs[k] = v
	}
	o.mu.Unlock()

	if initial == nil {
		return nil, fmt.Errorf("orchestrator: nil initial state")
	}
	if err := validateGraph(regs, initial.CompletedSteps); err != nil {
		return initial, err
	}

	mgr := state.NewManager(initial, o.logger, o.dispatcher)
	caseID := initial.CaseMeta.CaseID
	start := time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	sched := newScheduler(regs, initial.CompletedSteps)

	var (
		fatalMu sync.Mutex
		fatal   error
	)
	setFatal := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
	}

	o.dispatcher.Emit(events.WorkflowStartEvent{
		BaseEventData: events.NewBase(caseID, "", "orchestrator"),
		StageCount:    len(sched.pending),
	})
	o.logger.WithField("case_id", caseID).
		Infof("🚀 Workflow run started: %d stages pending", len(sched.pending))
	if len(sched.pending) > 0 {
		mgr.SetStatus(types.CaseProcessing)
	}

	var wg sync.WaitGroup

	sched.mu.Lock()
	for {
		if sched.aborted || runCtx.Err() != nil {
			break
		}

		// Stages blocked behind a failure are skipped; an optional stage
		// skips without blocking its own dependents.
		for _, reg := range sched.unreachableLocked() {
			delete(sched.pending, reg.stage)
			if reg.optional {
				sched.satisfied[reg.stage] = true
			} else {
				sched.failed[reg.stage] = true
			}
			mgr.RecordSkip(reg.stage, reg.agent.Name(), "dependency failed")
			o.dispatcher.Emit(events.StageSkipEvent{
				BaseEventData: events.NewBase(caseID, "", "orchestrator"),
				Stage:         reg.stage,
				Reason:        "dependency failed",
			})
			o.logger.WithField("case_id", caseID).
				Warnf("stage %s skipped: dependency failed", reg.stage)
		}

		if len(sched.pending) == 0 && sched.running == 0 {
			break
		}

		var reg *registration
		if sched.running < cfg.MaxConcurrentJobs {
			reg = sched.nextReadyLocked()
		}
		if reg == nil {
			if sched.running == 0 {
				// Pending stages remain, nothing is running, and the
				// unreachable sweep freed nothing. validateGraph rules
				// out cycles, so this should not happen; bail out rather
				// than wait forever.
				o.logger.Errorf("orchestrator: %d stages stuck with no runnable work", len(sched.pending))
				break
			}
			sched.cond.Wait()
			continue
		}

		delete(sched.pending, reg.stage)
		sched.running++
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			success := o.runStage(runCtx, cancelRun, reg, cfg, mgr, services, setFatal)
			sched.stageDone(reg.stage, success, reg.optional)
		}(reg)
	}
	sched.mu.Unlock()

	cancelRun()
	wg.Wait()

	final := mgr.Final()

	fatalMu.Lock()
	runErr := fatal
	fatalMu.Unlock()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	if runErr != nil || final.HasCriticalError() {
		final.CaseMeta.Status = types.CaseError
	} else if final.CaseMeta.Status == types.CaseProcessing {
		final.CaseMeta.Status = types.CaseCompleted
	}

	o.dispatcher.Emit(events.WorkflowEndEvent{
		BaseEventData: events.NewBase(caseID, "", "orchestrator"),
		Status:        final.CaseMeta.Status,
		DurationMs:    time.Since(start).Milliseconds(),
		Completed:     final.CompletedSteps,
	})
	o.logger.WithFields(map[string]interface{}{
		"case_id":  caseID,
		"status":   final.CaseMeta.Status,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Infof("🏁 Workflow run finished: %d/%d stages completed", len(final.CompletedSteps), len(regs))

	if runErr != nil {
		return final, fmt.Errorf("%w: %v", ErrRunAborted, runErr)
	}
	return final, nil
}

// runStage executes one stage with retries and merges its result. Returns
// whether the stage ultimately succeeded. A stage whose run context was
// cancelled merges nothing and records nothing: its partial work is
// discarded.
func (o *Orchestrator) runStage(runCtx context.Context, cancelRun context.CancelFunc, reg *registration, cfg *Config, mgr *state.Manager, services agents.Services, setFatal func(error)) bool {
	caseID := mgr.Snapshot().CaseMeta.CaseID
	timeout := time.Duration(reg.timeoutMs) * time.Millisecond
	if reg.timeoutMs <= 0 {
		timeout = time.Duration(cfg.DefaultTimeoutMs) * time.Millisecond
	}

	var lastErr error
	maxAttempts := cfg.RetryPolicy.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if runCtx.Err() != nil {
			return false
		}

		correlationID := uuid.NewString()
		mgr.SetCurrentStep(reg.stage)
		o.dispatcher.Emit(events.StageStartEvent{
			BaseEventData: events.NewBase(caseID, correlationID, "orchestrator"),
			Stage:         reg.stage,
			Attempt:       attempt,
		})
		o.logger.WithFields(map[string]interface{}{
			"case_id":        caseID,
			"stage":          reg.stage,
			"attempt":        attempt,
			"correlation_id": correlationID,
		}).Infof("▶️  Stage %s starting", reg.stage)

		actx := &agents.AgentContext{
			CaseID:        caseID,
			CorrelationID: correlationID,
			Stage:         reg.stage,
			State:         mgr.Snapshot(),
			Services:      services,
			Logger:        o.logger,
			Dispatcher:    o.dispatcher,
		}

		stageCtx, cancelStage := context.WithTimeout(runCtx, timeout)
		stageStart := time.Now()
		result, err := agents.ExecuteWithValidation(stageCtx, reg.agent, actx)
		timedOut := stageCtx.Err() == context.DeadlineExceeded && runCtx.Err() == nil
		cancelStage()

		if runCtx.Err() != nil {
			// Fail-fast cancellation or caller timeout: discard whatever
			// the attempt produced.
			return false
		}

		if err == nil && result != nil {
			if mergeErr := mgr.Merge(reg.stage, result); mergeErr != nil {
				err = types.WrapProcessingError(reg.stage, types.KindUnknown, types.ErrorHigh,
					"merge failed", mergeErr)
			} else {
				o.dispatcher.Emit(events.StageEndEvent{
					BaseEventData: events.NewBase(caseID, correlationID, "orchestrator"),
					Stage:         reg.stage,
					DurationMs:    time.Since(stageStart).Milliseconds(),
					Success:       true,
				})
				o.logger.WithField("case_id", caseID).
					Infof("✅ Stage %s completed in %s", reg.stage, time.Since(stageStart).Round(time.Millisecond))
				return true
			}
		}

		if timedOut {
			err = types.WrapProcessingError(reg.stage, types.KindTimeout, types.ErrorMedium,
				fmt.Sprintf("stage timed out after %s", timeout), err)
		}
		lastErr = err

		severity := types.ErrorHigh
		var pe *types.ProcessingError
		if errors.As(err, &pe) {
			severity = pe.Severity
		}
		o.dispatcher.Emit(events.StageErrorEvent{
			BaseEventData: events.NewBase(caseID, correlationID, "orchestrator"),
			Stage:         reg.stage,
			Attempt:       attempt,
			Error:         err.Error(),
			Severity:      severity,
		})
		o.logger.WithField("case_id", caseID).
			WithError(err).
			Errorf("stage %s attempt %d failed", reg.stage, attempt)

		if attempt < maxAttempts && o.shouldRetry(cfg, err) {
			o.dispatcher.Emit(events.StageRetryEvent{
				BaseEventData: events.NewBase(caseID, correlationID, "orchestrator"),
				Stage:         reg.stage,
				NextAttempt:   attempt + 1,
				BackoffMs:     cfg.RetryPolicy.BackoffMs,
			})
			select {
			case <-runCtx.Done():
				return false
			case <-time.After(time.Duration(cfg.RetryPolicy.BackoffMs) * time.Millisecond):
			}
			continue
		}
		break
	}

	o.recordStageFailure(reg, mgr, lastErr)

	if types.IsCritical(lastErr) || cfg.ErrorPolicy == ErrorPolicyFailFast {
		setFatal(fmt.Errorf("stage %s: %w", reg.stage, lastErr))
		cancelRun()
	}
	return false
}

func (o *Orchestrator) shouldRetry(cfg *Config, err error) bool {
	if types.IsCritical(err) {
		return false
	}
	if cfg.RetryPolicy.RetryCondition != nil {
		return cfg.RetryPolicy.RetryCondition(err)
	}
	return types.IsRetryable(err)
}

func (o *Orchestrator) recordStageFailure(reg *registration, mgr *state.Manager, err error) {
	var pe *types.ProcessingError
	if !errors.As(err, &pe) {
		pe = types.WrapProcessingError(reg.stage, types.KindUnknown, types.ErrorHigh,
			fmt.Sprintf("stage failed: %v", err), err)
	}
	mgr.RecordFailure(reg.stage, reg.agent.Name(), pe)
}
