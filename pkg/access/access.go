// Package access decides whether a user may touch a document, both as
// an in-process predicate and as a SQL filter so listings and counts
// paginate correctly.
package access

import (
	"time"

	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/models"
)

// CanAccess evaluates the access rule chain, first match wins:
// superuser, owner, public read, then an unexpired share at a
// sufficient level.
func CanAccess(user *models.User, doc *models.Document, shares []models.DocumentShare, level string) bool {
	if user == nil || doc == nil {
		return false
	}
	if user.IsSuperuser {
		return true
	}
	if doc.OwnerID == user.ID {
		return true
	}
	if doc.IsPublic && level == models.PermissionRead {
		return true
	}
	now := time.Now()
	for _, share := range shares {
		if share.DocumentID != doc.ID || share.SharedWithUserID != user.ID {
			continue
		}
		if share.IsExpired(now) {
			continue
		}
		if models.PermissionSatisfies(share.PermissionLevel, level) {
			return true
		}
	}
	return false
}

// CanAccessDB is CanAccess with the document's shares loaded on demand.
func CanAccessDB(db *gorm.DB, user *models.User, doc *models.Document, level string) (bool, error) {
	if user == nil || doc == nil {
		return false, nil
	}
	// The share query is skipped when an earlier rule already decides.
	if user.IsSuperuser || doc.OwnerID == user.ID ||
		(doc.IsPublic && level == models.PermissionRead) {
		return true, nil
	}
	var shares []models.DocumentShare
	err := db.Where("document_id = ? AND shared_with_user_id = ?", doc.ID, user.ID).
		Find(&shares).Error
	if err != nil {
		return false, err
	}
	return CanAccess(user, doc, shares, level), nil
}

// AccessibleDocuments returns a gorm scope restricting a documents
// query to what the user may read: owned, public, or actively shared.
// Superusers see everything. Every listing query goes through this so
// counts and pagination realize the same predicate as CanAccess.
func AccessibleDocuments(user *models.User) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if user.IsSuperuser {
			return db
		}
		return db.Where(
			"documents.owner_id = ?"+
				" OR documents.is_public = ?"+
				" OR documents.id IN (?)",
			user.ID,
			true,
			db.Session(&gorm.Session{NewDB: true}).
				Model(&models.DocumentShare{}).
				Select("document_id").
				Where("shared_with_user_id = ? AND (expires_at IS NULL OR expires_at > ?)",
					user.ID, time.Now()),
		)
	}
}
