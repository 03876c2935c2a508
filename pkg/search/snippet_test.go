package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSnippets(t *testing.T) {
	text := strings.Repeat("padding ", 40) + // push the match off the start
		"The electricity invoice total is 42 EUR for March." +
		strings.Repeat(" trailing", 40)

	t.Run("wraps all terms and adds ellipses", func(t *testing.T) {
		snippets := ExtractSnippets(text, "invoice total", 3, 50)
		require.NotEmpty(t, snippets)
		first := snippets[0]
		assert.Contains(t, first, "<mark>invoice</mark>")
		assert.Contains(t, first, "<mark>total</mark>")
		assert.True(t, strings.HasPrefix(first, "..."))
		assert.True(t, strings.HasSuffix(first, "..."))
	})

	t.Run("case insensitive matching", func(t *testing.T) {
		snippets := ExtractSnippets("INVOICE from ACME", "invoice", 3, 150)
		require.Len(t, snippets, 1)
		assert.Contains(t, snippets[0], "<mark>INVOICE</mark>")
		// No ellipses: the window covers the whole text.
		assert.False(t, strings.HasPrefix(snippets[0], "..."))
	})

	t.Run("deduplicates identical windows", func(t *testing.T) {
		// Both terms sit in the same short text, producing one window.
		snippets := ExtractSnippets("alpha beta", "alpha beta", 3, 150)
		assert.Len(t, snippets, 1)
	})

	t.Run("terms not present yield nothing", func(t *testing.T) {
		assert.Empty(t, ExtractSnippets("some document text", "zebra", 3, 150))
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Empty(t, ExtractSnippets("", "query", 3, 150))
		assert.Empty(t, ExtractSnippets("text", "   ", 3, 150))
	})

	t.Run("caps terms at maxSnippets", func(t *testing.T) {
		text := "one two three four"
		snippets := ExtractSnippets(text, "one two three four", 2, 1)
		assert.LessOrEqual(t, len(snippets), 2)
	})
}
