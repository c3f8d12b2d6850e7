package vectorsearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"medcoder/internal/llmtypes"
	"medcoder/internal/utils"
)

const qdrantGRPCPort = 6334

// QdrantSearcher embeds the query and retrieves hits from a qdrant
// collection of procedure-record chunks.
type QdrantSearcher struct {
	client     *qdrant.Client
	embedder   llmtypes.Embedder
	collection string
	logger     utils.ExtendedLogger
}

// NewQdrantSearcher connects to the qdrant instance at baseURL (host or
// http URL; the gRPC port is fixed) and searches the named collection.
func NewQdrantSearcher(baseURL, collection string, embedder llmtypes.Embedder, logger utils.ExtendedLogger) (*QdrantSearcher, error) {
	host := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	if i := strings.Index(host, ":"); i != -1 {
		host = host[:i]
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: qdrantGRPCPort,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: connect to qdrant at %s: %w", host, err)
	}
	return &QdrantSearcher{
		client:     client,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}, nil
}

// Search implements Searcher.
func (s *QdrantSearcher) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	start := time.Now()

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: embed query: %w", err)
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: query %s: %w", s.collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hits = append(hits, hitFromPoint(point))
	}

	s.logger.WithField("collection", s.collection).
		Debugf("vector search returned %d hits in %s", len(hits), time.Since(start).Round(time.Millisecond))
	return hits, nil
}

// IsAvailable checks connectivity with a short-deadline collection listing.
func (s *QdrantSearcher) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.client.ListCollections(ctx)
	return err == nil
}

// Close releases the client connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

func hitFromPoint(point *qdrant.ScoredPoint) Hit {
	h := Hit{
		SearchScore:   float64(point.Score),
		RerankerScore: float64(point.Score),
	}
	for key, value := range point.Payload {
		switch key {
		case "parent_id":
			h.ParentID = value.GetStringValue()
		case "code_title":
			h.CodeTitle = value.GetStringValue()
		case "chunk":
			h.Chunk = value.GetStringValue()
		case "search_score":
			if v := value.GetDoubleValue(); v != 0 {
				h.SearchScore = v
			}
		case "reranker_score":
			if v := value.GetDoubleValue(); v != 0 {
				h.RerankerScore = v
			}
		}
	}
	if h.ParentID == "" {
		h.ParentID = pointIDString(point.Id)
	}
	return h
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return id.String()
	}
}
