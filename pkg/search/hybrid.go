package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/access"
	"github.com/cartulary/cartulary/pkg/models"
)

// Reciprocal Rank Fusion parameters.
const (
	// RRFK dampens the contribution of lower ranks.
	RRFK = 60

	// DefaultMinRRFScore filters documents that barely registered in
	// either list.
	DefaultMinRRFScore = 0.005
)

// Weights are the per-list multipliers for rank fusion.
type Weights struct {
	Fulltext float64
	Vector   float64
}

// DefaultWeights split the score evenly between the two lists.
var DefaultWeights = Weights{Fulltext: 0.5, Vector: 0.5}

// HybridSearch fuses fulltext and semantic rankings with RRF.
type HybridSearch struct {
	fulltext *FulltextSearch
	semantic *SemanticSearch
	db       *gorm.DB
	logger   hclog.Logger
}

// HybridConfig holds configuration for hybrid search.
type HybridConfig struct {
	Fulltext *FulltextSearch
	Semantic *SemanticSearch
	DB       *gorm.DB
	Logger   hclog.Logger
}

// NewHybridSearch creates a hybrid searcher.
func NewHybridSearch(cfg HybridConfig) (*HybridSearch, error) {
	if cfg.Fulltext == nil || cfg.Semantic == nil {
		return nil, fmt.Errorf("both fulltext and semantic search are required")
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HybridSearch{
		fulltext: cfg.Fulltext,
		semantic: cfg.Semantic,
		db:       cfg.DB,
		logger:   logger.Named("hybrid-search"),
	}, nil
}

// rrfScores computes the fused score per document id from two ranked
// id lists. Ranks are 1-based: the document at rank r contributes
// w/(RRFK+r) from each list it appears in.
func rrfScores(fulltextIDs, vectorIDs []uuid.UUID, weights Weights) map[uuid.UUID]float64 {
	scores := make(map[uuid.UUID]float64, len(fulltextIDs)+len(vectorIDs))
	for i, id := range fulltextIDs {
		scores[id] += weights.Fulltext / float64(RRFK+i+1)
	}
	for i, id := range vectorIDs {
		scores[id] += weights.Vector / float64(RRFK+i+1)
	}
	return scores
}

// Search runs both retrieval modes with 2x candidates, fuses the
// rankings, and returns up to limit documents above the minimum fused
// score, re-fetched under the access scope. The vector side's best
// chunk is kept for display; partial back-end failure degrades to the
// surviving list.
func (h *HybridSearch) Search(ctx context.Context, query string, user *models.User, limit int, weights Weights) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	if weights.Fulltext == 0 && weights.Vector == 0 {
		weights = DefaultWeights
	}

	candidates := limit * 2

	ftDocs, ftErr := h.fulltext.List(ctx, query, user, 0, candidates)
	semResults, semErr := h.semantic.Search(ctx, query, user, candidates, 0)
	if ftErr != nil && semErr != nil {
		return nil, fmt.Errorf("both search modes failed: fulltext=%v, semantic=%v", ftErr, semErr)
	}
	if ftErr != nil {
		h.logger.Warn("fulltext search failed, fusing vector list only", "error", ftErr)
	}
	if semErr != nil {
		h.logger.Warn("semantic search failed, fusing fulltext list only", "error", semErr)
	}

	ftIDs := make([]uuid.UUID, 0, len(ftDocs))
	for _, d := range ftDocs {
		ftIDs = append(ftIDs, d.ID)
	}
	semIDs := make([]uuid.UUID, 0, len(semResults))
	chunkByID := make(map[uuid.UUID]string, len(semResults))
	for _, r := range semResults {
		semIDs = append(semIDs, r.Document.ID)
		chunkByID[r.Document.ID] = r.MatchedChunk
	}

	scores := rrfScores(ftIDs, semIDs, weights)

	type scored struct {
		id    uuid.UUID
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for id, score := range scores {
		if score >= DefaultMinRRFScore {
			ranked = append(ranked, scored{id, score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		// Deterministic order for equal scores.
		return ranked[i].id.String() < ranked[j].id.String()
	})

	// Re-fetch survivors under the access scope in one query.
	ids := make([]uuid.UUID, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.id)
	}
	var docs []models.Document
	if len(ids) > 0 {
		err := h.db.WithContext(ctx).
			Scopes(access.AccessibleDocuments(user)).
			Where("documents.id IN ?", ids).
			Find(&docs).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch fused results: %w", err)
		}
	}
	docByID := make(map[uuid.UUID]models.Document, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d
	}

	results := make([]Result, 0, limit)
	for _, r := range ranked {
		doc, ok := docByID[r.id]
		if !ok {
			continue
		}
		results = append(results, Result{
			Document:     doc,
			Score:        r.score,
			Highlights:   ExtractSnippets(doc.OCRText, query, DefaultMaxSnippets, DefaultContextChars),
			MatchedChunk: chunkByID[r.id],
		})
		if len(results) == limit {
			break
		}
	}

	h.logger.Debug("hybrid search completed",
		"query", query,
		"fulltext_candidates", len(ftIDs),
		"vector_candidates", len(semIDs),
		"results", len(results),
	)
	return results, nil
}
