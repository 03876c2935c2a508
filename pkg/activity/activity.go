// Package activity appends audit-trail rows. The pipeline records
// auto-tagging through it so the raw LLM tag list can be compared with
// what was actually applied.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/models"
)

// Well-known actions.
const (
	ActionDocumentAutoTagged = "document.auto_tagged"
	ActionDocumentImported   = "document.imported"
	ActionDocumentReprocess  = "document.reprocessed"
)

// Recorder writes activity log rows.
type Recorder struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewRecorder creates an activity recorder.
func NewRecorder(db *gorm.DB, logger hclog.Logger) *Recorder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{
		db:     db,
		logger: logger.Named("activity"),
	}
}

// Record appends one row. Failures are logged and swallowed: the audit
// trail must never break the operation it describes.
func (r *Recorder) Record(ctx context.Context, userID *uuid.UUID, action, resourceType string, resourceID *uuid.UUID, description string, extra map[string]interface{}) {
	row := models.ActivityLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Description:  description,
	}
	if extra != nil {
		data, err := json.Marshal(extra)
		if err != nil {
			r.logger.Warn("failed to marshal activity extra data",
				"action", action, "error", err)
		} else {
			row.ExtraData = models.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logger.Warn("failed to record activity", "action", action, "error", err)
	}
}

// RecordAutoTagging logs the raw LLM tag list against what was applied.
func (r *Recorder) RecordAutoTagging(ctx context.Context, documentID uuid.UUID, raw, applied []string) {
	r.Record(ctx, nil, ActionDocumentAutoTagged, "document", &documentID,
		fmt.Sprintf("auto-tagged with %d of %d suggested tags", len(applied), len(raw)),
		map[string]interface{}{
			"suggested_tags": raw,
			"applied_tags":   applied,
		})
}
