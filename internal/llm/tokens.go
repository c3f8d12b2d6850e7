package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt sizes so callers can stay inside a model's
// context window. It uses the cl100k_base encoding and falls back to a
// bytes/4 heuristic when the encoding is unavailable (offline test runs).
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter with lazy encoder initialization.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the token count for the text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return heuristicTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// FitsBudget reports whether the text stays inside the token budget.
func (c *TokenCounter) FitsBudget(text string, budget int) bool {
	return c.Count(text) <= budget
}

// TruncateToBudget cuts the text so its estimate stays inside the budget.
// The cut lands on a whitespace boundary when one is close.
func (c *TokenCounter) TruncateToBudget(text string, budget int) string {
	if budget <= 0 || c.FitsBudget(text, budget) {
		return text
	}
	// Binary search the longest prefix that fits.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.Count(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := lo
	for cut > 0 && cut > lo-64 && !isSpace(text[cut-1]) {
		cut--
	}
	if cut == 0 || cut <= lo-64 {
		cut = lo
	}
	return text[:cut]
}

func heuristicTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
