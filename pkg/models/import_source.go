package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Import source types and statuses. Only active sources are driven by
// the ingest reconciler.
const (
	SourceTypeDirectory = "directory"
	SourceTypeIMAP      = "imap"

	SourceStatusActive = "active"
	SourceStatusPaused = "paused"
	SourceStatusError  = "error"
)

// ImportSource is a configured origin that pushes new documents into the
// pipeline: a watched directory or an IMAP mailbox.
type ImportSource struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	SourceType string    `gorm:"type:varchar(20);not null" json:"sourceType"`
	Status     string    `gorm:"type:varchar(20);not null;default:'active';index:idx_import_sources_status" json:"status"`
	OwnerID    uuid.UUID `gorm:"type:uuid;not null" json:"ownerId"`

	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `gorm:"type:text" json:"lastError,omitempty"`

	// Directory sources.
	WatchPath         string `gorm:"type:varchar(1000)" json:"watchPath,omitempty"`
	MoveAfterImport   bool   `gorm:"not null;default:false" json:"moveAfterImport"`
	MoveToPath        string `gorm:"type:varchar(1000)" json:"moveToPath,omitempty"`
	DeleteAfterImport bool   `gorm:"not null;default:false" json:"deleteAfterImport"`

	// IMAP sources.
	IMAPHost            string `gorm:"column:imap_host;type:varchar(255)" json:"imapHost,omitempty"`
	IMAPPort            int    `gorm:"column:imap_port;default:993" json:"imapPort,omitempty"`
	IMAPUseSSL          bool   `gorm:"column:imap_use_ssl;not null;default:true" json:"imapUseSsl"`
	IMAPUsername        string `gorm:"column:imap_username;type:varchar(255)" json:"imapUsername,omitempty"`
	IMAPPassword        string `gorm:"column:imap_password;type:varchar(255)" json:"-"`
	IMAPMailbox         string `gorm:"column:imap_mailbox;type:varchar(255);default:'INBOX'" json:"imapMailbox,omitempty"`
	IMAPProcessedFolder string `gorm:"column:imap_processed_folder;type:varchar(255)" json:"imapProcessedFolder,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name.
func (ImportSource) TableName() string {
	return "import_sources"
}

// BeforeCreate assigns an id and validates type-specific requirements.
func (s *ImportSource) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.OwnerID == uuid.Nil {
		return fmt.Errorf("owner_id is required")
	}
	switch s.SourceType {
	case SourceTypeDirectory:
		if s.WatchPath == "" {
			return fmt.Errorf("watch_path is required for directory sources")
		}
	case SourceTypeIMAP:
		if s.IMAPHost == "" {
			return fmt.Errorf("imap_host is required for imap sources")
		}
	default:
		return fmt.Errorf("invalid source type %q", s.SourceType)
	}
	if s.Status == "" {
		s.Status = SourceStatusActive
	}
	return nil
}

// ListActiveSources returns all sources the reconciler should drive.
func ListActiveSources(db *gorm.DB, sourceType string) ([]ImportSource, error) {
	var sources []ImportSource
	err := db.Where("status = ? AND source_type = ?", SourceStatusActive, sourceType).
		Find(&sources).Error
	return sources, err
}

// RecordRun marks a successful poll.
func (s *ImportSource) RecordRun(db *gorm.DB) error {
	now := time.Now().UTC()
	s.LastRun = &now
	return db.Model(s).Updates(map[string]interface{}{
		"last_run":   now,
		"last_error": "",
	}).Error
}

// RecordError stores a failure and flips the source into the error state.
// Messages must never contain credentials.
func (s *ImportSource) RecordError(db *gorm.DB, msg string) error {
	s.LastError = msg
	s.Status = SourceStatusError
	return db.Model(s).Updates(map[string]interface{}{
		"last_error": msg,
		"status":     SourceStatusError,
	}).Error
}
