// Package llm builds remote-model clients and layers structured-output
// generation on top of them.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medcoder/internal/llm/azureadapter"
	"medcoder/internal/llm/openaiadapter"
	"medcoder/internal/llmtypes"
	"medcoder/internal/utils"
)

// EndpointConfig describes one remote-model endpoint.
type EndpointConfig struct {
	URL        string
	APIKey     string
	APIVersion string
	Deployment string
}

// IsAzure reports whether the endpoint routes by deployment. Azure
// resource URLs and any endpoint with a configured deployment qualify.
func (c EndpointConfig) IsAzure() bool {
	return strings.Contains(strings.ToLower(c.URL), ".openai.azure.com") || c.Deployment != ""
}

// NewModelClient builds the adapter matching the endpoint shape and wraps
// it with call instrumentation.
func NewModelClient(cfg EndpointConfig, logger utils.ExtendedLogger) (llmtypes.Model, error) {
	var (
		inner llmtypes.Model
		err   error
	)
	if cfg.IsAzure() {
		inner, err = azureadapter.New(cfg.URL, cfg.APIKey, cfg.APIVersion, cfg.Deployment, logger)
	} else {
		inner, err = openaiadapter.New(cfg.URL, cfg.APIKey, cfg.Deployment, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("build model client for %s: %w", cfg.URL, err)
	}
	return &instrumentedModel{inner: inner, endpoint: cfg.URL, logger: logger}, nil
}

// NewEmbedder builds an embedding client for the endpoint. Only the Azure
// adapter exposes embeddings; plain endpoints reuse it with the same
// credentials.
func NewEmbedder(cfg EndpointConfig, logger utils.ExtendedLogger) (llmtypes.Embedder, error) {
	adapter, err := azureadapter.New(cfg.URL, cfg.APIKey, cfg.APIVersion, cfg.Deployment, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedder for %s: %w", cfg.URL, err)
	}
	return adapter, nil
}

// instrumentedModel logs every model call with its duration and outcome.
type instrumentedModel struct {
	inner    llmtypes.Model
	endpoint string
	logger   utils.ExtendedLogger
}

func (m *instrumentedModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	start := time.Now()
	m.logger.WithField("endpoint", m.endpoint).
		Debugf("model call: %d messages", len(messages))

	resp, err := m.inner.GenerateContent(ctx, messages, options...)
	elapsed := time.Since(start)

	if err != nil {
		m.logger.WithField("endpoint", m.endpoint).
			WithError(err).
			Errorf("model call failed after %s", elapsed.Round(time.Millisecond))
		return nil, err
	}
	m.logger.WithField("endpoint", m.endpoint).
		Infof("✅ model call completed in %s", elapsed.Round(time.Millisecond))
	return resp, nil
}
