package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain object",
			input:    `{"code":"49616"}`,
			expected: `{"code":"49616"}`,
		},
		{
			name:     "json fence",
			input:    "```json\n{\"code\":\"49616\"}\n```",
			expected: `{"code":"49616"}`,
		},
		{
			name:     "bare fence",
			input:    "```\n{\"code\":\"49616\"}\n```",
			expected: `{"code":"49616"}`,
		},
		{
			name:     "unterminated fence",
			input:    "```json\n{\"code\":\"49616\"}",
			expected: `{"code":"49616"}`,
		},
		{
			name:     "prose around object",
			input:    "Here is the result:\n{\"code\":\"49616\"}\nLet me know if you need more.",
			expected: `{"code":"49616"}`,
		},
		{
			name:     "array payload",
			input:    "The codes are: [\"K43.0\",\"K43.9\"] as requested",
			expected: `["K43.0","K43.9"]`,
		},
		{
			name:     "whitespace only",
			input:    "  \n\t ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONContent(tt.input))
		})
	}
}

func TestValidateJSON(t *testing.T) {
	assert.NoError(t, ValidateJSON(`{"ok":true}`))
	assert.NoError(t, ValidateJSON(`[1,2,3]`))
	assert.Error(t, ValidateJSON(`{"ok":`))
	assert.Error(t, ValidateJSON(`not json at all`))
}

func TestConvertToStructuredOutput(t *testing.T) {
	type selection struct {
		Code  string  `json:"code"`
		Score float64 `json:"score"`
	}

	out, err := ConvertToStructuredOutput[selection]("```json\n{\"code\":\"49616\",\"score\":0.92}\n```")
	require.NoError(t, err)
	assert.Equal(t, "49616", out.Code)
	assert.InDelta(t, 0.92, out.Score, 1e-9)

	_, err = ConvertToStructuredOutput[selection]("no json here")
	assert.Error(t, err)
}

func TestBuildPromptWithSchema(t *testing.T) {
	prompt := BuildPromptWithSchema("Select the procedure code.", `{"type":"object"}`)
	assert.Contains(t, prompt, "Select the procedure code.")
	assert.Contains(t, prompt, "valid JSON that exactly matches this schema")
	assert.Contains(t, prompt, `{"type":"object"}`)
	assert.Contains(t, prompt, "Return ONLY the JSON object")
}

func TestSchemaFor(t *testing.T) {
	type pick struct {
		Code      string `json:"code" jsonschema:"description=Selected code"`
		Rationale string `json:"rationale"`
	}

	schema, err := SchemaFor[pick]()
	require.NoError(t, err)
	assert.Contains(t, schema, `"code"`)
	assert.Contains(t, schema, `"rationale"`)
	assert.Contains(t, schema, "Selected code")
	// Inline schemas keep prompts self-contained.
	assert.NotContains(t, schema, `"$ref"`)
}

func TestTokenCounter(t *testing.T) {
	counter := NewTokenCounter()

	assert.Equal(t, 0, counter.Count(""))
	assert.Greater(t, counter.Count("laparoscopic repair of ventral hernia"), 0)
	assert.True(t, counter.FitsBudget("short note", 1000))
	assert.False(t, counter.FitsBudget(strings.Repeat("hernia repair ", 5000), 10))
}

func TestTruncateToBudget(t *testing.T) {
	counter := NewTokenCounter()
	text := strings.Repeat("the patient presented with abdominal pain ", 400)

	got := counter.TruncateToBudget(text, 50)
	assert.True(t, strings.HasPrefix(text, got))
	assert.LessOrEqual(t, counter.Count(got), 50)
	assert.NotEmpty(t, got)

	// Inside budget passes through untouched.
	assert.Equal(t, "short", counter.TruncateToBudget("short", 100))
}

func TestEndpointConfigIsAzure(t *testing.T) {
	assert.True(t, EndpointConfig{URL: "https://acme.openai.azure.com"}.IsAzure())
	assert.True(t, EndpointConfig{URL: "https://llm.internal", Deployment: "gpt-4o"}.IsAzure())
	assert.False(t, EndpointConfig{URL: "https://api.openai.com/v1"}.IsAzure())
}
