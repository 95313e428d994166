package data

import (
	"context"

	"gorm.io/gorm"

	"github.com/bigpicture/pujo-pictures/src/api/types"
)

// AuditLog appends moderation events to the moderation_events table.
type AuditLog struct {
	db *gorm.DB
}

func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

func (a *AuditLog) Record(ctx context.Context, ev types.ModerationEvent) error {
	return a.db.WithContext(ctx).Create(&ev).Error
}

// Recent returns the newest events for a submission, newest first.
func (a *AuditLog) Recent(ctx context.Context, submissionID string, limit int) ([]types.ModerationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []types.ModerationEvent
	err := a.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
