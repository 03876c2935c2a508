package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRRFScores(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	t.Run("document in both lists sums both terms", func(t *testing.T) {
		// a: rank 1 fulltext, rank 2 vector.
		scores := rrfScores(
			[]uuid.UUID{a, b},
			[]uuid.UUID{c, a},
			Weights{Fulltext: 0.5, Vector: 0.5},
		)
		assert.InDelta(t, 0.5/61.0+0.5/62.0, scores[a], 1e-12)
	})

	t.Run("document in one list gets only its term", func(t *testing.T) {
		scores := rrfScores(
			[]uuid.UUID{a, b},
			[]uuid.UUID{c},
			Weights{Fulltext: 0.5, Vector: 0.5},
		)
		assert.InDelta(t, 0.5/62.0, scores[b], 1e-12)
		assert.InDelta(t, 0.5/61.0, scores[c], 1e-12)
	})

	t.Run("weights scale contributions", func(t *testing.T) {
		scores := rrfScores(
			[]uuid.UUID{a},
			[]uuid.UUID{a},
			Weights{Fulltext: 1.0, Vector: 0.0},
		)
		assert.InDelta(t, 1.0/61.0, scores[a], 1e-12)
	})

	t.Run("empty lists give empty scores", func(t *testing.T) {
		assert.Empty(t, rrfScores(nil, nil, DefaultWeights))
	})
}

func TestDefaultMinRRFScoreKeepsTopRanks(t *testing.T) {
	// A document at rank 1 in a single list with default weights scores
	// 0.5/61 ~ 0.0082, which survives the default floor; far-down ranks
	// in one list fall below it.
	assert.Greater(t, 0.5/61.0, DefaultMinRRFScore)
	assert.Less(t, 0.5/(60.0+41.0), DefaultMinRRFScore)
}
