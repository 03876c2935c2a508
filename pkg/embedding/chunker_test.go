package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	assert.Empty(t, Chunk("", 500, 50))
	assert.Empty(t, Chunk("   \n\t  ", 500, 50))
}

func TestChunkShortInput(t *testing.T) {
	chunks := Chunk("a short note", 500, 50)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short note", chunks[0])
}

func TestChunkPrefersSentenceBoundaries(t *testing.T) {
	text := strings.Repeat("This is a sentence. ", 60) // 1200 bytes
	chunks := Chunk(text, 500, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
		// Every cut landed after a period, so chunks end on one.
		assert.True(t, strings.HasSuffix(c, "."), "chunk should end at a sentence boundary: %q", c)
	}
}

func TestChunkFallsBackToSpaces(t *testing.T) {
	// No sentence separators anywhere.
	text := strings.Repeat("word ", 300) // 1500 bytes
	chunks := Chunk(text, 500, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
		assert.False(t, strings.Contains(c, "  "))
	}
}

func TestChunkRawBoundaryWithoutSpaces(t *testing.T) {
	text := strings.Repeat("x", 1200)
	chunks := Chunk(text, 500, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
	}
	// No characters lost: total content covers the input.
	assert.GreaterOrEqual(t, len(strings.Join(chunks, "")), 1200)
}

// chunker law: the concatenation preserves all non-whitespace characters
// of the input in order (overlap means duplicates are fine).
func TestChunkPreservesContent(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta! Eta theta iota? " +
		strings.Repeat("Kappa lambda mu nu xi omicron pi. ", 30)
	chunks := Chunk(text, 120, 20)

	joined := strings.Join(chunks, "")
	for _, word := range strings.Fields(text) {
		assert.Contains(t, joined, word)
	}
}

func TestChunkVariantsAgreeOnLaws(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	for _, variant := range []struct {
		name string
		fn   func(string, int, int) []string
	}{
		{"sentence-boundary", Chunk},
		{"fixed-stride", chunkFixedStride},
	} {
		t.Run(variant.name, func(t *testing.T) {
			chunks := variant.fn(text, 500, 50)
			require.NotEmpty(t, chunks)
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), 500)
				assert.NotEmpty(t, strings.TrimSpace(c))
			}
		})
	}
}

func TestChunkLargeInputUsesLinearPath(t *testing.T) {
	// Inputs past the threshold take the fixed-stride path; the output
	// contract holds either way.
	text := strings.Repeat("Large document body with plenty of text. ", 10000)
	require.Greater(t, len(text), largeTextThreshold)
	chunks := Chunk(text, 500, 50)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 500)
	}
}

func BenchmarkChunkSentenceBoundary(b *testing.B) {
	text := strings.Repeat("Benchmark sentence with several words in it. ", 1200) // ~54 KiB
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Chunk(text, 500, 50)
	}
}

func BenchmarkChunkFixedStride(b *testing.B) {
	text := strings.Repeat("Benchmark sentence with several words in it. ", 1200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chunkFixedStride(text, 500, 50)
	}
}
