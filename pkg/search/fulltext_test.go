package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cartulary/cartulary/pkg/models"
)

func newSearchDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

func seedDoc(t *testing.T, db *gorm.DB, owner *models.User, title, ocrText string, public bool) *models.Document {
	t.Helper()
	d := &models.Document{
		OwnerID:          owner.ID,
		Title:            title,
		OriginalFilename: title + ".pdf",
		FilePath:         "xx/x/" + title + ".pdf",
		OCRText:          ocrText,
		IsPublic:         public,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

func TestFulltextSearch(t *testing.T) {
	db := newSearchDB(t)
	owner := &models.User{Email: "o@example.com", Username: "o"}
	require.NoError(t, db.Create(owner).Error)
	other := &models.User{Email: "x@example.com", Username: "x"}
	require.NoError(t, db.Create(other).Error)

	seedDoc(t, db, owner, "Electricity Invoice", "Total due 42 EUR", false)
	seedDoc(t, db, owner, "Insurance Letter", "electricity usage report attached", false)
	seedDoc(t, db, owner, "Unrelated", "nothing here", false)
	seedDoc(t, db, other, "Their Electricity Bill", "private to other user", false)

	ft, err := NewFulltextSearch(FulltextConfig{DB: db})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("matches title and body case-insensitively", func(t *testing.T) {
		docs, err := ft.List(ctx, "ELECTRICITY", owner, 0, 10)
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("count agrees with list", func(t *testing.T) {
		n, err := ft.Count(ctx, "electricity", owner)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("access scope hides other users' documents", func(t *testing.T) {
		docs, err := ft.List(ctx, "electricity", other, 0, 10)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Their Electricity Bill", docs[0].Title)
	})

	t.Run("pagination", func(t *testing.T) {
		page1, err := ft.List(ctx, "electricity", owner, 0, 1)
		require.NoError(t, err)
		page2, err := ft.List(ctx, "electricity", owner, 1, 1)
		require.NoError(t, err)
		require.Len(t, page1, 1)
		require.Len(t, page2, 1)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})

	t.Run("search decorates with snippets and fixed score", func(t *testing.T) {
		results, err := ft.Search(ctx, "electricity", owner, 0, 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, 1.0, r.Score)
			assert.Empty(t, r.MatchedChunk)
		}
	})
}
