package agents

import (
	"context"
	"fmt"
	"time"

	"medcoder/internal/llm"
	"medcoder/internal/llmtypes"
	"medcoder/pkg/events"
	"medcoder/pkg/types"
)

// askStructured resolves the stage's backend, sends a schema-constrained
// request and unmarshals the response. Transport failures are recorded
// against the stage for failover accounting and surface as medium
// external-api errors; schema mismatches are critical.
func askStructured[T any](ctx context.Context, actx *AgentContext, systemPrompt, userPrompt string) (*T, error) {
	assignment, err := actx.Services.Backend.GetAssignedBackend(actx.Stage)
	if err != nil {
		return nil, types.WrapProcessingError(actx.Stage, types.KindExternalAPI, types.ErrorCritical,
			"no backend available", err)
	}

	schema, err := llm.SchemaFor[T]()
	if err != nil {
		return nil, types.WrapProcessingError(actx.Stage, types.KindValidation, types.ErrorCritical,
			"schema reflection failed", err)
	}

	start := time.Now()
	actx.Dispatcher.Emit(events.ModelCallStartEvent{
		BaseEventData: events.NewBase(actx.CaseID, actx.CorrelationID, actx.Stage),
		Stage:         actx.Stage,
		Endpoint:      assignment.EndpointID,
		Deployment:    assignment.Deployment,
		PromptSummary: summarize(userPrompt),
	})

	gen := llm.NewStructuredOutputGenerator(assignment.Client, actx.Logger)
	content, err := gen.Generate(ctx, systemPrompt, userPrompt, schema)
	if err != nil {
		actx.Services.Backend.RecordFailure(actx.Stage, err)
		actx.Dispatcher.Emit(events.ModelCallErrorEvent{
			BaseEventData: events.NewBase(actx.CaseID, actx.CorrelationID, actx.Stage),
			Stage:         actx.Stage,
			Endpoint:      assignment.EndpointID,
			DurationMs:    time.Since(start).Milliseconds(),
			Error:         err.Error(),
		})
		kind := types.KindExternalAPI
		if ctx.Err() != nil {
			kind = types.KindTimeout
		}
		return nil, types.WrapProcessingError(actx.Stage, kind, types.ErrorMedium,
			"model call failed", err)
	}
	actx.Services.Backend.RecordSuccess(actx.Stage, assignment.EndpointID)
	actx.Dispatcher.Emit(events.ModelCallEndEvent{
		BaseEventData: events.NewBase(actx.CaseID, actx.CorrelationID, actx.Stage),
		Stage:         actx.Stage,
		Endpoint:      assignment.EndpointID,
		DurationMs:    time.Since(start).Milliseconds(),
	})

	out, err := llm.ConvertToStructuredOutput[T](content)
	if err != nil {
		return nil, types.WrapProcessingError(actx.Stage, types.KindValidation, types.ErrorCritical,
			"model response failed schema validation", fmt.Errorf("%w: %v", types.ErrSchemaValidation, err))
	}
	return out, nil
}

// askFreeText sends a plain prompt and returns the raw response text.
func askFreeText(ctx context.Context, actx *AgentContext, systemPrompt, userPrompt string) (string, error) {
	assignment, err := actx.Services.Backend.GetAssignedBackend(actx.Stage)
	if err != nil {
		return "", types.WrapProcessingError(actx.Stage, types.KindExternalAPI, types.ErrorCritical,
			"no backend available", err)
	}

	resp, err := assignment.Client.GenerateContent(ctx,
		[]llmtypes.Message{
			llmtypes.SystemMessage(systemPrompt),
			llmtypes.HumanMessage(userPrompt),
		},
		llmtypes.WithTemperature(0.2),
	)
	if err != nil {
		actx.Services.Backend.RecordFailure(actx.Stage, err)
		return "", types.WrapProcessingError(actx.Stage, types.KindExternalAPI, types.ErrorMedium,
			"model call failed", err)
	}
	actx.Services.Backend.RecordSuccess(actx.Stage, assignment.EndpointID)
	if len(resp.Choices) == 0 {
		return "", types.NewProcessingError(actx.Stage, types.KindExternalAPI, types.ErrorMedium,
			"model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func summarize(prompt string) string {
	const max = 120
	if len(prompt) <= max {
		return prompt
	}
	return prompt[:max] + "..."
}
