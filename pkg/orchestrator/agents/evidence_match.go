package agents

import (
	"regexp"
	"strings"
)

// Evidence snippets returned by the model must be traceable to the note
// text. The matcher normalizes both sides and accepts a snippet when the
// whole string matches, when most of its sentences match, or when its
// meaningful words appear in order.

var (
	whitespaceRe     = regexp.MustCompile(`\s+`)
	bracketInsertRe  = regexp.MustCompile(`\[[^\]]*\]`)
	sentenceSplitRe  = regexp.MustCompile(`[.!?;]+`)
	nonWordTrimChars = ".,;:!?()\"'"
)

var evidenceStopWords = map[string]bool{
	"the": true, "and": true, "with": true, "was": true, "were": true,
	"this": true, "that": true, "from": true, "into": true, "then": true,
	"there": true, "which": true, "after": true, "before": true,
	"patient": true, "noted": true, "using": true, "upon": true,
	"their": true, "have": true, "been": true,
}

// normalizeNoteText lowercases, expands literal \n sequences, strips
// ellipses and bracketed inserts, maps dash/quote/apostrophe variants to
// ASCII, and collapses whitespace.
func normalizeNoteText(text string) string {
	s := strings.ToLower(text)
	s = strings.ReplaceAll(s, `\n`, " ")

	replacer := strings.NewReplacer(
		"–", "-", "—", "-", "−", "-",
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"…", " ", "...", " ",
	)
	s = replacer.Replace(s)

	s = bracketInsertRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// snippetMatchesNote reports whether the snippet is supported by the note
// text. Both arguments are raw; normalization happens here.
func snippetMatchesNote(snippet, noteText string) bool {
	normSnippet := normalizeNoteText(snippet)
	normNote := normalizeNoteText(noteText)
	if normSnippet == "" || normNote == "" {
		return false
	}

	if strings.Contains(normNote, normSnippet) {
		return true
	}

	// Sentence-level fallback: at least 60% of the snippet's sentences
	// longer than five characters appear verbatim.
	sentences := sentenceSplitRe.Split(normSnippet, -1)
	considered, matched := 0, 0
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 5 {
			continue
		}
		considered++
		if strings.Contains(normNote, sentence) {
			matched++
		}
	}
	if considered > 0 && float64(matched)/float64(considered) >= 0.6 {
		return true
	}

	// Word-level fallback: at least 70% of meaningful words present in
	// order.
	words := meaningfulWords(normSnippet)
	if len(words) == 0 {
		return false
	}
	found := 0
	searchFrom := 0
	for _, word := range words {
		idx := strings.Index(normNote[searchFrom:], word)
		if idx == -1 {
			continue
		}
		found++
		searchFrom += idx + len(word)
		if searchFrom >= len(normNote) {
			break
		}
	}
	return float64(found)/float64(len(words)) >= 0.7
}

// meaningfulWords filters to words longer than three characters that are
// not stop words.
func meaningfulWords(normText string) []string {
	var out []string
	for _, field := range strings.Fields(normText) {
		word := strings.Trim(field, nonWordTrimChars)
		if len(word) <= 3 || evidenceStopWords[word] {
			continue
		}
		out = append(out, word)
	}
	return out
}
