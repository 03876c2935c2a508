package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Share permission levels, ranked admin > write > read.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
	PermissionAdmin = "admin"
)

var permissionRank = map[string]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionAdmin: 3,
}

// PermissionSatisfies reports whether a granted level covers a required one.
// Unknown levels never satisfy anything.
func PermissionSatisfies(granted, required string) bool {
	g, ok := permissionRank[granted]
	if !ok {
		return false
	}
	r, ok := permissionRank[required]
	if !ok {
		return false
	}
	return g >= r
}

// DocumentShare grants another user access to a document at a permission
// level, optionally until an expiry. At most one active share exists per
// (document, user) pair.
type DocumentShare struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	DocumentID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_document_shares_doc_user" json:"documentId"`
	SharedWithUserID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_document_shares_doc_user" json:"sharedWithUserId"`
	SharedByUserID   *uuid.UUID `gorm:"type:uuid" json:"sharedByUserId,omitempty"`

	PermissionLevel string     `gorm:"type:varchar(10);not null;default:'read'" json:"permissionLevel"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name.
func (DocumentShare) TableName() string {
	return "document_shares"
}

// BeforeCreate assigns an id and validates the permission level.
func (s *DocumentShare) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.DocumentID == uuid.Nil || s.SharedWithUserID == uuid.Nil {
		return fmt.Errorf("document_id and shared_with_user_id are required")
	}
	if _, ok := permissionRank[s.PermissionLevel]; !ok {
		return fmt.Errorf("invalid permission level %q", s.PermissionLevel)
	}
	return nil
}

// IsExpired reports whether the share has lapsed. Shares without an
// expiry never expire.
func (s *DocumentShare) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}
