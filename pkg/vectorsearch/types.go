// Package vectorsearch retrieves candidate procedure records for a clinical
// query from a vector index.
package vectorsearch

import "context"

// Hit is one retrieved record. ParentID is the procedure code the chunk
// belongs to; CodeTitle its display title.
type Hit struct {
	ParentID      string  `json:"parent_id"`
	CodeTitle     string  `json:"code_title"`
	Chunk         string  `json:"chunk"`
	SearchScore   float64 `json:"search_score"`
	RerankerScore float64 `json:"reranker_score"`
}

// Searcher retrieves the topK most relevant records for a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}
