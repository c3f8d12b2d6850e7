// Package azureadapter implements llmtypes.Model against an Azure-hosted
// OpenAI-compatible endpoint. Azure routes by deployment name, so the
// adapter maps every requested model onto its configured deployment.
package azureadapter

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"medcoder/internal/llmtypes"
	"medcoder/internal/utils"
)

// AzureAdapter implements llmtypes.Model using the go-openai SDK with an
// Azure client configuration.
type AzureAdapter struct {
	client     *openai.Client
	deployment string
	logger     utils.ExtendedLogger
}

// New builds an adapter for one Azure endpoint + deployment.
func New(endpointURL, apiKey, apiVersion, deployment string, logger utils.ExtendedLogger) (*AzureAdapter, error) {
	if endpointURL == "" || apiKey == "" {
		return nil, fmt.Errorf("azure adapter requires endpoint URL and API key")
	}
	config := openai.DefaultAzureConfig(apiKey, endpointURL)
	if apiVersion != "" {
		config.APIVersion = apiVersion
	}
	config.AzureModelMapperFunc = func(model string) string {
		// Requests name logical models; Azure wants the deployment.
		return deployment
	}
	return &AzureAdapter{
		client:     openai.NewClientWithConfig(config),
		deployment: deployment,
		logger:     logger,
	}, nil
}

// GenerateContent implements the llmtypes.Model interface.
func (a *AzureAdapter) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	opts := &llmtypes.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	model := a.deployment
	if opts.Model != "" {
		model = opts.Model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(messages),
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("azure chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("azure chat completion: empty choice list")
	}

	choices := make([]*llmtypes.ContentChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, &llmtypes.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		})
	}
	return &llmtypes.ContentResponse{Choices: choices}, nil
}

// EmbedQuery implements llmtypes.Embedder for vector search.
func (a *AzureAdapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		return nil, fmt.Errorf("azure embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("azure embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func convertMessages(messages []llmtypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case llmtypes.ChatMessageTypeSystem:
			role = openai.ChatMessageRoleSystem
		case llmtypes.ChatMessageTypeAI:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
