package search

import (
	"strings"
)

// Snippet defaults.
const (
	DefaultMaxSnippets  = 3
	DefaultContextChars = 150
)

// ExtractSnippets returns highlighted context windows around the first
// occurrence of each query term in text. Every query term appearing in
// a window is wrapped in <mark> tags, not just the one that anchored
// it; windows that collapse onto the same span are deduplicated.
func ExtractSnippets(text, query string, maxSnippets, contextChars int) []string {
	if text == "" || strings.TrimSpace(query) == "" {
		return nil
	}
	if maxSnippets <= 0 {
		maxSnippets = DefaultMaxSnippets
	}
	if contextChars <= 0 {
		contextChars = DefaultContextChars
	}

	terms := strings.Fields(query)
	if len(terms) > maxSnippets {
		terms = terms[:maxSnippets]
	}

	lower := strings.ToLower(text)
	seen := make(map[[2]int]bool)
	var snippets []string

	for _, term := range terms {
		idx := strings.Index(lower, strings.ToLower(term))
		if idx < 0 {
			continue
		}

		start := idx - contextChars
		if start < 0 {
			start = 0
		}
		end := idx + len(term) + contextChars
		if end > len(text) {
			end = len(text)
		}

		window := [2]int{start, end}
		if seen[window] {
			continue
		}
		seen[window] = true

		snippet := markTerms(text[start:end], strings.Fields(query))
		if start > 0 {
			snippet = "..." + snippet
		}
		if end < len(text) {
			snippet = snippet + "..."
		}
		snippets = append(snippets, snippet)
	}
	return snippets
}

// markTerms wraps each case-insensitive occurrence of every term in
// <mark> tags.
func markTerms(snippet string, terms []string) string {
	for _, term := range terms {
		if term == "" {
			continue
		}
		snippet = markAll(snippet, term)
	}
	return snippet
}

func markAll(s, term string) string {
	lowerTerm := strings.ToLower(term)
	var b strings.Builder
	for {
		idx := strings.Index(strings.ToLower(s), lowerTerm)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		b.WriteString("<mark>")
		b.WriteString(s[idx : idx+len(term)])
		b.WriteString("</mark>")
		s = s[idx+len(term):]
	}
}
