package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"

	"medcoder/internal/llmtypes"
	"medcoder/internal/utils"
)

const defaultStructuredMaxTokens = 20000

// StructuredOutputGenerator asks a model for JSON that matches a schema and
// cleans the response into parseable form.
type StructuredOutputGenerator struct {
	model  llmtypes.Model
	logger utils.ExtendedLogger
}

// NewStructuredOutputGenerator wraps a model client for schema-constrained
// generation.
func NewStructuredOutputGenerator(model llmtypes.Model, logger utils.ExtendedLogger) *StructuredOutputGenerator {
	return &StructuredOutputGenerator{model: model, logger: logger}
}

// Generate sends the prompt with the schema appended and returns cleaned
// JSON text. The caller unmarshals it into the target type.
func (g *StructuredOutputGenerator) Generate(ctx context.Context, systemPrompt, userPrompt, schemaJSON string) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("structured output: no model configured")
	}

	messages := []llmtypes.Message{
		llmtypes.SystemMessage(systemPrompt),
		llmtypes.HumanMessage(BuildPromptWithSchema(userPrompt, schemaJSON)),
	}

	resp, err := g.model.GenerateContent(ctx, messages,
		llmtypes.WithTemperature(0.0),
		llmtypes.WithMaxTokens(structuredMaxTokens()),
		llmtypes.WithJSONMode(),
	)
	if err != nil {
		return "", fmt.Errorf("structured output generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("structured output: model returned no choices")
	}

	content := CleanJSONContent(resp.Choices[0].Content)
	if err := ValidateJSON(content); err != nil {
		g.logger.WithError(err).Warnf("model returned invalid JSON (%d bytes)", len(content))
		return "", fmt.Errorf("structured output: invalid JSON: %w", err)
	}
	return content, nil
}

// BuildPromptWithSchema appends the JSON schema and response rules to the
// user prompt.
func BuildPromptWithSchema(prompt, schemaJSON string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nIMPORTANT: You must respond with valid JSON that exactly matches this schema:\n\n")
	sb.WriteString(schemaJSON)
	sb.WriteString("\n\nCRITICAL: Return ONLY the JSON object. No markdown, no code fences, no explanations before or after.")
	return sb.String()
}

// CleanJSONContent strips markdown code fences and surrounding prose from a
// model response, leaving the JSON payload.
func CleanJSONContent(content string) string {
	content = strings.TrimSpace(content)

	// Models often wrap JSON in ```json ... ``` fences despite instructions.
	if idx := strings.Index(content, "```"); idx != -1 {
		start := idx + 3
		if rest := content[start:]; strings.HasPrefix(rest, "json") {
			start += 4
		}
		if end := strings.LastIndex(content, "```"); end > start {
			content = content[start:end]
		} else {
			content = content[start:]
		}
		content = strings.TrimSpace(content)
	}

	// Trim prose before the first brace or bracket and after the last.
	firstObj := strings.Index(content, "{")
	firstArr := strings.Index(content, "[")
	first := firstObj
	last := strings.LastIndex(content, "}")
	if firstArr != -1 && (first == -1 || firstArr < first) {
		first = firstArr
		last = strings.LastIndex(content, "]")
	}
	if first > 0 && last > first {
		content = content[first : last+1]
	}
	return strings.TrimSpace(content)
}

// ValidateJSON reports whether the content parses as JSON.
func ValidateJSON(content string) error {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}

// ConvertToStructuredOutput unmarshals cleaned JSON into the target type.
func ConvertToStructuredOutput[T any](content string) (*T, error) {
	var out T
	if err := json.Unmarshal([]byte(CleanJSONContent(content)), &out); err != nil {
		return nil, fmt.Errorf("failed to convert structured output: %w", err)
	}
	return &out, nil
}

// SchemaFor renders the JSON schema for a Go type, inlined without $ref
// indirection so it reads well inside a prompt.
func SchemaFor[T any]() (string, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var v T
	schema := reflector.Reflect(&v)
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return string(data), nil
}

// MustSchemaFor is SchemaFor for schemas built from static types at startup.
func MustSchemaFor[T any]() string {
	s, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}

func structuredMaxTokens() int {
	if raw := os.Getenv("STRUCTURED_OUTPUT_MAX_TOKENS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultStructuredMaxTokens
}
