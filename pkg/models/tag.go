package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxTagNameLength caps tag names; longer names are truncated on normalize.
const MaxTagNameLength = 50

// Tag is a free-standing label linked to documents many-to-many.
// Names are unique case-insensitively and stored lowercased.
type Tag struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Name        string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_tags_name" json:"name"`
	Color       string     `gorm:"type:varchar(7)" json:"color,omitempty"`
	Description string     `gorm:"type:varchar(255)" json:"description,omitempty"`
	CreatedBy   *uuid.UUID `gorm:"type:uuid" json:"createdBy,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name.
func (Tag) TableName() string {
	return "tags"
}

// BeforeCreate assigns an id and enforces the name invariants.
func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Name = NormalizeTagName(t.Name)
	if t.Name == "" {
		return fmt.Errorf("tag name is required")
	}
	return nil
}

// NormalizeTagName lowercases, trims and truncates a tag name.
func NormalizeTagName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) > MaxTagNameLength {
		name = name[:MaxTagNameLength]
	}
	return name
}

// DocumentTag links a tag to a document. Auto-tagged rows come from the
// LLM metadata stage and carry a confidence.
type DocumentTag struct {
	DocumentID uuid.UUID `gorm:"type:uuid;primaryKey" json:"documentId"`
	TagID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"tagId"`

	Confidence   *float64  `gorm:"type:double precision" json:"confidence,omitempty"`
	IsAutoTagged bool      `gorm:"not null;default:false" json:"isAutoTagged"`
	TaggedAt     time.Time `gorm:"autoCreateTime" json:"taggedAt"`
}

// TableName specifies the table name.
func (DocumentTag) TableName() string {
	return "document_tags"
}

// UpsertTag finds a tag by normalized name or creates it.
func UpsertTag(db *gorm.DB, name string, createdBy *uuid.UUID) (*Tag, error) {
	name = NormalizeTagName(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}
	var tag Tag
	err := db.Where("name = ?", name).First(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	tag = Tag{Name: name, CreatedBy: createdBy}
	if err := db.Create(&tag).Error; err != nil {
		return nil, err
	}
	return &tag, nil
}
