package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentChunk is one embedded slice of a document's extracted text.
// The embedding column itself is vector(D) and lives only in the SQL
// migrations; gorm never reads it back as a typed field. Writers insert
// it with VectorLiteral, readers only ever use it inside pgvector
// distance expressions.
type DocumentChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index:idx_document_chunks_document" json:"documentId"`

	ChunkIndex int    `gorm:"not null" json:"chunkIndex"`
	ChunkText  string `gorm:"type:text;not null" json:"chunkText"`

	EmbeddingModel string `gorm:"type:varchar(100)" json:"embeddingModel"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name.
func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// BeforeCreate assigns an id.
func (c *DocumentChunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DocumentID == uuid.Nil {
		return fmt.Errorf("document_id is required")
	}
	return nil
}

// VectorLiteral formats an embedding as a pgvector input literal,
// e.g. "[0.12,-0.5,...]".
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// CountChunks returns the number of chunk rows for a document.
func CountChunks(db *gorm.DB, documentID uuid.UUID) (int64, error) {
	var n int64
	err := db.Model(&DocumentChunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}
