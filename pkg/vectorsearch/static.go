package vectorsearch

import (
	"context"
	"sort"
	"strings"
)

// StaticSearcher ranks a fixed document set by token overlap. It stands in
// for the vector index in tests and offline development; scoring is
// deterministic for a given document set and query.
type StaticSearcher struct {
	docs []Hit
}

// NewStaticSearcher builds a searcher over the given documents. The
// documents' score fields are ignored; Search computes fresh scores.
func NewStaticSearcher(docs []Hit) *StaticSearcher {
	return &StaticSearcher{docs: docs}
}

// Add appends a document.
func (s *StaticSearcher) Add(doc Hit) {
	s.docs = append(s.docs, doc)
}

// Search implements Searcher.
func (s *StaticSearcher) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || topK <= 0 {
		return nil, nil
	}

	scored := make([]Hit, 0, len(s.docs))
	for _, doc := range s.docs {
		score := overlapScore(queryTokens, tokenize(doc.CodeTitle+" "+doc.Chunk))
		if strings.Contains(strings.ToLower(doc.CodeTitle), strings.ToLower(strings.TrimSpace(query))) {
			score += 0.5
		}
		if score == 0 {
			continue
		}
		doc.SearchScore = score
		doc.RerankerScore = score
		scored = append(scored, doc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].SearchScore != scored[j].SearchScore {
			return scored[i].SearchScore > scored[j].SearchScore
		}
		return scored[i].ParentID < scored[j].ParentID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:()[]\"'")
		if len(token) > 2 {
			tokens[token] = true
		}
	}
	return tokens
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for token := range query {
		if doc[token] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
