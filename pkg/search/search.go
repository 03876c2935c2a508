// Package search serves retrieval over a user's accessible documents:
// keyword matching with snippet highlighting, pgvector cosine
// similarity, and a Reciprocal Rank Fusion hybrid of the two.
package search

import (
	"github.com/cartulary/cartulary/pkg/models"
)

// Search modes.
const (
	ModeFulltext = "fulltext"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
)

// Result is one retrieval hit. Fulltext results carry Score 1.0 and no
// matched chunk; semantic and hybrid results carry the best-matching
// chunk text for display.
type Result struct {
	Document     models.Document `json:"document"`
	Score        float64         `json:"score"`
	Highlights   []string        `json:"highlights"`
	MatchedChunk string          `json:"matchedChunk,omitempty"`
}
