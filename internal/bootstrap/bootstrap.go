// Package bootstrap builds the shared service registry from the
// environment: backend manager, reference store, and vector searcher.
// Constructed once at process start and passed explicitly; no globals.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"medcoder/internal/llm"
	"medcoder/internal/utils"
	"medcoder/pkg/backend"
	"medcoder/pkg/events"
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/refdata"
	"medcoder/pkg/vectorsearch"
)

const refdataCacheTTL = 10 * time.Minute

// BuildServices wires the service registry from environment variables:
// MODEL_ENDPOINT/MODEL_API_KEY (and optional _2 fallbacks), REFDATA_DIR,
// and optionally QDRANT_URL + VECTOR_COLLECTION. Without a qdrant URL the
// vector searcher is a deterministic offline index built from the
// reference store.
func BuildServices(logger utils.ExtendedLogger, dispatcher *events.Dispatcher) (agents.Services, error) {
	mgr, err := backend.NewManagerFromEnv(logger, dispatcher)
	if err != nil {
		return agents.Services{}, err
	}

	refdataDir := os.Getenv("REFDATA_DIR")
	if refdataDir == "" {
		refdataDir = "refdata"
	}
	store := refdata.NewCachedStore(refdata.NewFSStore(refdataDir, logger), refdataCacheTTL, logger)
	repo := refdata.NewRepository(store, logger)

	searcher, err := buildSearcher(logger, repo)
	if err != nil {
		return agents.Services{}, err
	}

	return agents.Services{
		Backend: mgr,
		RefData: repo,
		Vector:  searcher,
	}, nil
}

// AgentConfigFromEnv reads the agent knobs that have environment
// overrides.
func AgentConfigFromEnv() agents.AgentConfig {
	cfg := agents.DefaultAgentConfig()
	if raw := os.Getenv("CONVERSION_FACTOR"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			cfg.ConversionFactor = f
		}
	}
	if raw := os.Getenv("FALLBACK_DIAGNOSIS_PREFIXES"); raw != "" {
		var prefixes []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				prefixes = append(prefixes, p)
			}
		}
		if len(prefixes) > 0 {
			cfg.FallbackDiagnosisPrefixes = prefixes
		}
	}
	return cfg
}

func buildSearcher(logger utils.ExtendedLogger, repo *refdata.Repository) (vectorsearch.Searcher, error) {
	if qdrantURL := os.Getenv("QDRANT_URL"); qdrantURL != "" {
		collection := os.Getenv("VECTOR_COLLECTION")
		if collection == "" {
			collection = "procedure-codes"
		}
		embedder, err := llm.NewEmbedder(llm.EndpointConfig{
			URL:        os.Getenv("MODEL_ENDPOINT"),
			APIKey:     os.Getenv("MODEL_API_KEY"),
			APIVersion: os.Getenv("MODEL_API_VERSION"),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: build embedder: %w", err)
		}
		return vectorsearch.NewQdrantSearcher(qdrantURL, collection, embedder, logger)
	}
	return offlineSearcher(logger, repo)
}

// offlineSearcher indexes every procedure record in the reference store.
func offlineSearcher(logger utils.ExtendedLogger, repo *refdata.Repository) (vectorsearch.Searcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names, err := repo.Store().ListFilesByName(ctx, refdata.ProceduresDir, "")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: list procedure records: %w", err)
	}

	searcher := vectorsearch.NewStaticSearcher(nil)
	indexed := 0
	for _, name := range names {
		code := strings.TrimSuffix(name, ".json")
		rec, err := repo.GetProcedureRecord(ctx, code)
		if err != nil {
			logger.WithError(err).Warnf("skipping unreadable procedure record %s", name)
			continue
		}
		chunk := rec.Description
		if rec.Insight != nil && rec.Insight.Summary != "" {
			chunk = chunk + " " + rec.Insight.Summary
		}
		searcher.Add(vectorsearch.Hit{
			ParentID:  rec.Code,
			CodeTitle: rec.Description,
			Chunk:     chunk,
		})
		indexed++
	}
	logger.Infof("offline vector index ready: %d procedure records", indexed)
	return searcher, nil
}
