package embedding

import "strings"

// Chunker defaults.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	// Above this input size the sentence-boundary scan is skipped in
	// favor of the fixed-stride variant, which is strictly linear.
	largeTextThreshold = 256 * 1024
)

var sentenceSeparators = []string{". ", "! ", "? ", "\n\n"}

// Chunk slices text into overlapping pieces of at most chunkSize bytes,
// preferring sentence boundaries, then word boundaries, then raw byte
// boundaries. Chunks are whitespace-trimmed and empty chunks dropped.
// The function is deterministic: equal inputs give equal outputs.
func Chunk(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
		if overlap >= chunkSize {
			overlap = 0
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{strings.TrimSpace(text)}
	}
	if len(text) > largeTextThreshold {
		return chunkFixedStride(text, chunkSize, overlap)
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		if end < len(text) {
			// Latest sentence boundary inside the window wins; fall back
			// to the latest space.
			cut := -1
			window := text[start:end]
			for _, sep := range sentenceSeparators {
				if i := strings.LastIndex(window, sep); i > 0 {
					if pos := start + i + len(sep); pos > cut {
						cut = pos
					}
				}
			}
			if cut < 0 {
				if i := strings.LastIndex(window, " "); i > 0 {
					cut = start + i
				}
			}
			if cut > start {
				end = cut
			}
		}

		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}
		if end >= len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			// A tiny boundary cut plus the overlap would stall the
			// cursor; advance past the window instead.
			next = end
		}
		start = next
	}
	return chunks
}

// chunkFixedStride is the linear-time variant: a plain sliding window
// with stride chunkSize-overlap and no boundary search. It obeys the
// same output contract as Chunk.
func chunkFixedStride(text string, chunkSize, overlap int) []string {
	stride := chunkSize - overlap
	if stride <= 0 {
		stride = chunkSize
	}

	var chunks []string
	for start := 0; start < len(text); start += stride {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}
		if end >= len(text) {
			break
		}
	}
	return chunks
}
