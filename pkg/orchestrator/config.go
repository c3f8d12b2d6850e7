package orchestrator

import "medcoder/pkg/types"

// ErrorPolicy decides what a stage failure does to the rest of the run.
type ErrorPolicy string

const (
	// ErrorPolicyContinue skips the failed stage's dependents and lets
	// independent stages proceed.
	ErrorPolicyContinue ErrorPolicy = "continue"
	// ErrorPolicyFailFast aborts the run and cancels in-flight stages.
	ErrorPolicyFailFast ErrorPolicy = "fail-fast"
)

// RetryPolicy drives orchestrator-side retries. Agents never retry
// themselves.
type RetryPolicy struct {
	MaxRetries     int                  `json:"max_retries"`
	BackoffMs      int                  `json:"backoff_ms"`
	RetryCondition func(err error) bool `json:"-"`
}

// Config contains all orchestrator configuration.
type Config struct {
	MaxConcurrentJobs int         `json:"max_concurrent_jobs"`
	DefaultTimeoutMs  int         `json:"default_timeout_ms"`
	RetryPolicy       RetryPolicy `json:"retry_policy"`
	ErrorPolicy       ErrorPolicy `json:"error_policy"`
}

// NewConfig creates an orchestrator configuration with defaults.
func NewConfig() *Config {
	return &Config{
		MaxConcurrentJobs: 2,
		DefaultTimeoutMs:  60000,
		RetryPolicy: RetryPolicy{
			MaxRetries:     2,
			BackoffMs:      1000,
			RetryCondition: types.IsRetryable,
		},
		ErrorPolicy: ErrorPolicyContinue,
	}
}

// SetMaxConcurrentJobs sets the concurrency ceiling.
func (c *Config) SetMaxConcurrentJobs(n int) *Config {
	c.MaxConcurrentJobs = n
	return c
}

// SetDefaultTimeoutMs sets the per-stage timeout applied when a
// registration does not carry its own.
func (c *Config) SetDefaultTimeoutMs(ms int) *Config {
	c.DefaultTimeoutMs = ms
	return c
}

// SetMaxRetries sets the retry ceiling per stage.
func (c *Config) SetMaxRetries(n int) *Config {
	c.RetryPolicy.MaxRetries = n
	return c
}

// SetBackoffMs sets the wait between retry attempts.
func (c *Config) SetBackoffMs(ms int) *Config {
	c.RetryPolicy.BackoffMs = ms
	return c
}

// SetRetryCondition sets the predicate deciding retry eligibility.
func (c *Config) SetRetryCondition(cond func(error) bool) *Config {
	c.RetryPolicy.RetryCondition = cond
	return c
}

// SetErrorPolicy sets the failure handling mode.
func (c *Config) SetErrorPolicy(policy ErrorPolicy) *Config {
	c.ErrorPolicy = policy
	return c
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return ErrInvalidConcurrency
	}
	if c.DefaultTimeoutMs <= 0 {
		return ErrInvalidTimeout
	}
	if c.RetryPolicy.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if c.RetryPolicy.BackoffMs < 0 {
		return ErrInvalidBackoff
	}
	if c.ErrorPolicy != ErrorPolicyContinue && c.ErrorPolicy != ErrorPolicyFailFast {
		return ErrInvalidErrorPolicy
	}
	return nil
}

// Common configuration errors
var (
	ErrInvalidConcurrency = &ConfigError{Field: "max_concurrent_jobs", Message: "maxConcurrentJobs must be at least 1"}
	ErrInvalidTimeout     = &ConfigError{Field: "default_timeout_ms", Message: "defaultTimeout must be positive"}
	ErrInvalidRetries     = &ConfigError{Field: "retry_policy.max_retries", Message: "maxRetries must not be negative"}
	ErrInvalidBackoff     = &ConfigError{Field: "retry_policy.backoff_ms", Message: "backoffMs must not be negative"}
	ErrInvalidErrorPolicy = &ConfigError{Field: "error_policy", Message: "errorPolicy must be continue or fail-fast"}
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
