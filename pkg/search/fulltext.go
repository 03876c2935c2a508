package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/access"
	"github.com/cartulary/cartulary/pkg/models"
)

// FulltextSearch matches a case-insensitive substring against the
// document's text columns, newest first, under the access scope.
type FulltextSearch struct {
	db     *gorm.DB
	logger hclog.Logger
}

// FulltextConfig holds configuration for fulltext search.
type FulltextConfig struct {
	DB     *gorm.DB
	Logger hclog.Logger
}

// NewFulltextSearch creates a fulltext searcher.
func NewFulltextSearch(cfg FulltextConfig) (*FulltextSearch, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FulltextSearch{
		db:     cfg.DB,
		logger: logger.Named("fulltext-search"),
	}, nil
}

// matchScope restricts to documents matching the query in any of the
// searched columns. LOWER(...) LIKE keeps the predicate portable across
// Postgres and the SQLite test databases.
func matchScope(query string) func(*gorm.DB) *gorm.DB {
	pattern := "%" + strings.ToLower(query) + "%"
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"LOWER(documents.title) LIKE ?"+
				" OR LOWER(documents.original_filename) LIKE ?"+
				" OR LOWER(documents.ocr_text) LIKE ?"+
				" OR LOWER(documents.extracted_title) LIKE ?"+
				" OR LOWER(documents.extracted_correspondent) LIKE ?",
			pattern, pattern, pattern, pattern, pattern,
		)
	}
}

// Count returns how many accessible documents match the query.
func (f *FulltextSearch) Count(ctx context.Context, query string, user *models.User) (int64, error) {
	var n int64
	err := f.db.WithContext(ctx).
		Model(&models.Document{}).
		Scopes(access.AccessibleDocuments(user), matchScope(query)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("fulltext count failed: %w", err)
	}
	return n, nil
}

// List returns a page of accessible matching documents, newest first.
func (f *FulltextSearch) List(ctx context.Context, query string, user *models.User, skip, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	var docs []models.Document
	err := f.db.WithContext(ctx).
		Scopes(access.AccessibleDocuments(user), matchScope(query)).
		Order("documents.created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("fulltext search failed: %w", err)
	}
	f.logger.Debug("fulltext search completed", "query", query, "results", len(docs))
	return docs, nil
}

// Search runs List and decorates each document with highlight snippets.
func (f *FulltextSearch) Search(ctx context.Context, query string, user *models.User, skip, limit int) ([]Result, error) {
	docs, err := f.List(ctx, query, user, skip, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		results = append(results, Result{
			Document:   doc,
			Score:      1.0,
			Highlights: ExtractSnippets(doc.OCRText, query, DefaultMaxSnippets, DefaultContextChars),
		})
	}
	return results, nil
}
