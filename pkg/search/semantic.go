package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/embedding"
	"github.com/cartulary/cartulary/pkg/models"
)

// DefaultSimilarityThreshold filters weak vector matches.
const DefaultSimilarityThreshold = 0.3

// SemanticSearch finds documents whose chunks are close to the query
// embedding under pgvector cosine distance.
type SemanticSearch struct {
	db       *gorm.DB
	provider embedding.Provider
	logger   hclog.Logger
}

// SemanticConfig holds configuration for semantic search.
type SemanticConfig struct {
	DB       *gorm.DB
	Provider embedding.Provider
	Logger   hclog.Logger
}

// NewSemanticSearch creates a semantic searcher.
func NewSemanticSearch(cfg SemanticConfig) (*SemanticSearch, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SemanticSearch{
		db:       cfg.DB,
		provider: cfg.Provider,
		logger:   logger.Named("semantic-search"),
	}, nil
}

type semanticRow struct {
	models.Document `gorm:"embedded"`
	ChunkText       string  `gorm:"column:chunk_text"`
	Similarity      float64 `gorm:"column:similarity"`
}

// Search embeds the query and returns the best-matching accessible
// documents with their closest chunk, highest similarity first.
func (s *SemanticSearch) Search(ctx context.Context, query string, user *models.User, limit int, threshold float64) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	queryVec, err := s.provider.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vec := models.VectorLiteral(queryVec)

	// One row per document: DISTINCT ON keeps the closest chunk. The
	// access filter mirrors access.AccessibleDocuments so pagination
	// stays honest.
	accessClause := `(d.owner_id = @user
		OR d.is_public = TRUE
		OR d.id IN (
			SELECT document_id FROM document_shares
			WHERE shared_with_user_id = @user
			  AND (expires_at IS NULL OR expires_at > NOW())
		))`
	if user.IsSuperuser {
		accessClause = "TRUE"
	}

	sql := fmt.Sprintf(`
		SELECT DISTINCT ON (d.id)
		       d.*,
		       c.chunk_text AS chunk_text,
		       1 - (c.embedding <=> @vec::vector) AS similarity
		  FROM documents d
		  JOIN document_chunks c ON c.document_id = d.id
		 WHERE %s
		   AND 1 - (c.embedding <=> @vec::vector) >= @threshold
		 ORDER BY d.id, similarity DESC
		 LIMIT @limit`, accessClause)

	var rows []semanticRow
	err = s.db.WithContext(ctx).Raw(sql,
		map[string]interface{}{
			"user":      user.ID,
			"vec":       vec,
			"threshold": threshold,
			"limit":     limit,
		}).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	// DISTINCT ON forces document-id order; rank by similarity here.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Similarity > rows[j].Similarity
	})

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Document:     row.Document,
			Score:        row.Similarity,
			MatchedChunk: row.ChunkText,
		})
	}
	s.logger.Debug("semantic search completed",
		"query", query, "results", len(results), "threshold", threshold)
	return results, nil
}
