package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityLog is an append-only audit trail row. The pipeline writes
// rows for auto-tagging so the raw LLM tag list can be compared with
// what was actually applied.
type ActivityLog struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	UserID       *uuid.UUID `gorm:"type:uuid;index:idx_activity_logs_user" json:"userId,omitempty"`
	Action       string     `gorm:"type:varchar(100);not null" json:"action"`
	ResourceType string     `gorm:"type:varchar(50);not null" json:"resourceType"`
	ResourceID   *uuid.UUID `gorm:"type:uuid" json:"resourceId,omitempty"`
	Description  string     `gorm:"type:text" json:"description,omitempty"`
	ExtraData    JSON       `gorm:"type:jsonb" json:"extraData,omitempty"`

	IPAddress string `gorm:"type:varchar(45)" json:"ipAddress,omitempty"`
	UserAgent string `gorm:"type:varchar(500)" json:"userAgent,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_activity_logs_created,sort:desc" json:"createdAt"`
}

// TableName specifies the table name.
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// BeforeCreate assigns an id.
func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
