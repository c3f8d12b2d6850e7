// Package openaiadapter implements llmtypes.Model using the OpenAI Go SDK
// directly, for endpoints that speak the plain OpenAI API (no deployment
// routing).
package openaiadapter

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"medcoder/internal/llmtypes"
	"medcoder/internal/utils"
)

// OpenAIAdapter implements the llmtypes.Model interface.
type OpenAIAdapter struct {
	client  *openai.Client
	modelID string
	logger  utils.ExtendedLogger
}

// New builds an adapter for one OpenAI-compatible endpoint. baseURL may be
// empty for the public API.
func New(baseURL, apiKey, modelID string, logger utils.ExtendedLogger) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai adapter requires an API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIAdapter{
		client:  &client,
		modelID: modelID,
		logger:  logger,
	}, nil
}

// GenerateContent implements the llmtypes.Model interface.
func (o *OpenAIAdapter) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	opts := &llmtypes.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	modelID := o.modelID
	if opts.Model != "" {
		modelID = opts.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: convertMessages(messages),
	}

	if opts.Temperature > 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}

	// max_tokens is omitted: newer models reject it in favour of
	// max_completion_tokens, and the API default is sufficient here.

	if opts.JSONMode {
		jsonObjParam := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonObjParam,
		}
	}

	result, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai generate content: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai generate content: empty choice list")
	}

	choices := make([]*llmtypes.ContentChoice, 0, len(result.Choices))
	for _, c := range result.Choices {
		choices = append(choices, &llmtypes.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"prompt_tokens":     result.Usage.PromptTokens,
				"completion_tokens": result.Usage.CompletionTokens,
				"total_tokens":      result.Usage.TotalTokens,
			},
		})
	}
	return &llmtypes.ContentResponse{Choices: choices}, nil
}

func convertMessages(messages []llmtypes.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llmtypes.ChatMessageTypeSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llmtypes.ChatMessageTypeAI:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
