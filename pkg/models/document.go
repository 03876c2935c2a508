package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Processing statuses a document moves through. The pipeline owns all
// transitions; user edits never touch processing_status.
const (
	StatusPending           = "pending"
	StatusProcessing        = "processing"
	StatusOCRComplete       = "ocr_complete"
	StatusOCRFailed         = "ocr_failed"
	StatusEmbeddingComplete = "embedding_complete"
	StatusLLMComplete       = "llm_complete"
	StatusFailed            = "failed"
)

// ValidStatuses is the complete processing-status state set.
var ValidStatuses = []string{
	StatusPending,
	StatusProcessing,
	StatusOCRComplete,
	StatusOCRFailed,
	StatusEmbeddingComplete,
	StatusLLMComplete,
	StatusFailed,
}

// Document is the ownership root of the data model. Blobs, chunks, shares
// and tag links all hang off a document row and cascade on delete.
type Document struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	OwnerID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_documents_owner" json:"ownerId"`
	UploadedBy *uuid.UUID `gorm:"type:uuid" json:"uploadedBy,omitempty"`

	Title            string `gorm:"type:varchar(500);not null" json:"title"`
	OriginalFilename string `gorm:"type:varchar(500);not null" json:"originalFilename"`

	// FilePath is the blob-store relative key (<prefix>/<doc_id>/<name>).
	FilePath string `gorm:"type:varchar(1000);not null" json:"filePath"`
	FileSize int64  `gorm:"not null;default:0" json:"fileSize"`
	MimeType string `gorm:"type:varchar(100)" json:"mimeType"`
	Checksum string `gorm:"type:varchar(64);index:idx_documents_checksum" json:"checksum"`

	OCRText     string `gorm:"type:text" json:"-"`
	OCRLanguage string `gorm:"type:varchar(10)" json:"ocrLanguage,omitempty"`
	PageCount   *int   `gorm:"type:integer" json:"pageCount,omitempty"`

	ExtractedTitle         string     `gorm:"type:varchar(500)" json:"extractedTitle,omitempty"`
	ExtractedDate          *time.Time `json:"extractedDate,omitempty"`
	ExtractedCorrespondent string     `gorm:"type:varchar(255)" json:"extractedCorrespondent,omitempty"`
	ExtractedDocumentType  string     `gorm:"type:varchar(100)" json:"extractedDocumentType,omitempty"`
	ExtractedSummary       string     `gorm:"type:text" json:"extractedSummary,omitempty"`

	// DocumentDate is the user-visible document date, seeded from the
	// extracted date but editable afterwards.
	DocumentDate *time.Time `json:"documentDate,omitempty"`

	IsPublic         bool   `gorm:"not null;default:false" json:"isPublic"`
	ProcessingStatus string `gorm:"type:varchar(30);not null;default:'pending';index:idx_documents_status" json:"processingStatus"`
	ProcessingError  string `gorm:"type:text" json:"processingError,omitempty"`

	Chunks []DocumentChunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
	Shares []DocumentShare `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
	Tags   []Tag           `gorm:"many2many:document_tags;" json:"tags,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate assigns an id and validates required fields.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.OwnerID == uuid.Nil {
		return fmt.Errorf("owner_id is required")
	}
	if d.OriginalFilename == "" {
		return fmt.Errorf("original_filename is required")
	}
	if d.Title == "" {
		d.Title = d.OriginalFilename
	}
	if d.ProcessingStatus == "" {
		d.ProcessingStatus = StatusPending
	}
	return nil
}

// GetDocument fetches a document by id.
func GetDocument(db *gorm.DB, id uuid.UUID) (*Document, error) {
	var doc Document
	if err := db.First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindDocumentByChecksum looks up an existing document for dedup: same
// owner, same SHA-256.
func FindDocumentByChecksum(db *gorm.DB, ownerID uuid.UUID, checksum string) (*Document, error) {
	var doc Document
	err := db.Where("owner_id = ? AND checksum = ?", ownerID, checksum).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// SetStatus persists a status transition, clearing or setting the
// processing error alongside it.
func (d *Document) SetStatus(db *gorm.DB, status, processingError string) error {
	d.ProcessingStatus = status
	d.ProcessingError = processingError
	return db.Model(d).Updates(map[string]interface{}{
		"processing_status": status,
		"processing_error":  processingError,
	}).Error
}
