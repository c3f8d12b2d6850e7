// Package agents implements the six workflow stages behind a standardized
// contract: every agent declares its required services and returns an
// AgentResult through a shared validation envelope.
package agents

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"medcoder/internal/utils"
	"medcoder/pkg/backend"
	"medcoder/pkg/events"
	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
	"medcoder/pkg/vectorsearch"
)

// AgentVersion stamps result metadata.
const AgentVersion = "1.0.0"

// Service names agents can declare in RequiredServices.
const (
	ServiceBackend      = "backend"
	ServiceRefData      = "refdata"
	ServiceVectorSearch = "vectorsearch"
)

// Services is the explicit service registry handed to every stage. Built
// once at process start; no global singletons.
type Services struct {
	Backend *backend.Manager
	RefData *refdata.Repository
	Vector  vectorsearch.Searcher
}

// Has reports whether the named service is wired.
func (s Services) Has(name string) bool {
	switch name {
	case ServiceBackend:
		return s.Backend != nil
	case ServiceRefData:
		return s.RefData != nil
	case ServiceVectorSearch:
		return s.Vector != nil
	default:
		return false
	}
}

// AgentContext is the per-invocation envelope: case identity, a state
// snapshot, services and the correlated logger. State is a deep copy taken
// at dispatch; agents read it freely but only their returned result is
// merged.
type AgentContext struct {
	CaseID        string
	CorrelationID string
	Stage         string
	State         *types.WorkflowState
	Services      Services
	Logger        utils.ExtendedLogger
	Dispatcher    *events.Dispatcher
}

// Agent is the standardized stage contract. Implementations must be
// reentrant across cases and hold no case state between invocations.
type Agent interface {
	Name() string
	Description() string
	RequiredServices() []string
	Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error)
}

// ExecuteWithValidation runs an agent inside the common envelope: service
// check, panic recovery, result post-validation, and execution timing.
func ExecuteWithValidation(ctx context.Context, agent Agent, actx *AgentContext) (result *types.AgentResult, err error) {
	for _, name := range agent.RequiredServices() {
		if !actx.Services.Has(name) {
			return nil, types.WrapProcessingError(agent.Name(), types.KindValidation, types.ErrorCritical,
				fmt.Sprintf("required service %q is not configured", name), types.ErrMissingService)
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			actx.Logger.Errorf("agent %s panicked: %v\n%s", agent.Name(), r, debug.Stack())
			result = nil
			err = types.NewProcessingError(agent.Name(), types.KindUnknown, types.ErrorCritical,
				fmt.Sprintf("unhandled panic: %v", r)).WithContext("stack", string(debug.Stack()))
		}
	}()

	result, err = agent.Execute(ctx, actx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, types.NewProcessingError(agent.Name(), types.KindValidation, types.ErrorCritical,
			"agent returned no result and no error")
	}

	for i := range result.Evidence {
		result.Evidence[i].ClampConfidence()
		if result.Evidence[i].SourceAgent == "" {
			result.Evidence[i].SourceAgent = agent.Name()
		}
	}
	if result.Metadata.AgentName == "" {
		result.Metadata.AgentName = agent.Name()
	}
	if result.Metadata.Version == "" {
		result.Metadata.Version = AgentVersion
	}
	result.Metadata.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}
