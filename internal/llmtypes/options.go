package llmtypes

// CallOptions are the per-call knobs adapters honour.
type CallOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// CallOption mutates CallOptions.
type CallOption func(opts *CallOptions)

// WithModel sets the model or deployment ID.
func WithModel(model string) CallOption {
	return func(opts *CallOptions) {
		opts.Model = model
	}
}

// WithTemperature sets the temperature.
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = temperature
	}
}

// WithMaxTokens sets the maximum completion tokens.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = maxTokens
	}
}

// WithJSONMode forces the model to emit a JSON object.
func WithJSONMode() CallOption {
	return func(opts *CallOptions) {
		opts.JSONMode = true
	}
}
