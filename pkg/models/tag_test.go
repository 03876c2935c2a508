package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTagDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Tag{}))
	return db
}

func TestUpsertTagCreatesThenFinds(t *testing.T) {
	db := newTagDB(t)

	created, err := UpsertTag(db, "  Invoice  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "invoice", created.Name)

	// Same normalized name resolves to the existing row, not a second one.
	found, err := UpsertTag(db, "INVOICE", nil)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	var count int64
	require.NoError(t, db.Model(&Tag{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpsertTagRejectsEmptyName(t *testing.T) {
	db := newTagDB(t)
	_, err := UpsertTag(db, "   ", nil)
	assert.Error(t, err)
}

func TestNormalizeTagNameTruncates(t *testing.T) {
	long := "a"
	for len(long) <= MaxTagNameLength {
		long += "a"
	}
	assert.Len(t, NormalizeTagName(long), MaxTagNameLength)
}
