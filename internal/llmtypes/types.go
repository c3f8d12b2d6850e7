// Package llmtypes defines the transport-neutral contract between the
// pipeline and the remote model service. Adapters in internal/llm map it
// onto concrete SDKs; nothing outside internal/llm imports an SDK type.
package llmtypes

import "context"

// ChatMessageType is the role of a chat message.
type ChatMessageType string

const (
	ChatMessageTypeSystem ChatMessageType = "system"
	ChatMessageTypeHuman  ChatMessageType = "human"
	ChatMessageTypeAI     ChatMessageType = "ai"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    ChatMessageType
	Content string
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message {
	return Message{Role: ChatMessageTypeSystem, Content: text}
}

// HumanMessage builds a user-role message.
func HumanMessage(text string) Message {
	return Message{Role: ChatMessageTypeHuman, Content: text}
}

// ContentChoice is one generation returned by the model.
type ContentChoice struct {
	Content    string
	StopReason string

	// GenerationInfo carries transport extras such as token counts.
	GenerationInfo map[string]any
}

// ContentResponse is the full model response.
type ContentResponse struct {
	Choices []*ContentChoice
}

// Model is implemented by every remote-model adapter. GenerateContent must
// honour ctx cancellation; it is the pipeline's only suspension point into
// the model service.
type Model interface {
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}

// Embedder produces embedding vectors for vector search queries.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
