// Package repo implements the data persistence layer for tracked cases.
// This file provides repository helpers for the ProcessedEvent model used to
// collapse at-least-once redelivery of push events.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/domain"
)

// ErrDuplicate indicates that a processed-event record already exists for
// the given event id.
var ErrDuplicate = errors.New("duplicate")

// WasEventProcessed reports whether eventID was handled within the dedup
// window ending at now. Records are never deleted; expiry is evaluated here
// at read time.
func WasEventProcessed(ctx context.Context, db *gorm.DB, eventID string, now time.Time, window time.Duration) (bool, error) {
	var rec domain.ProcessedEvent
	err := db.WithContext(ctx).
		Where("event_id = ? AND processed_at > ?", eventID, now.Add(-window)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEventProcessed records eventID as handled at now. A pre-existing row is
// refreshed rather than treated as a conflict: an expired id being reused is
// a new delivery, and two racing first deliveries both land on the same
// truth.
func MarkEventProcessed(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error {
	rec := &domain.ProcessedEvent{EventID: eventID, ProcessedAt: now.UTC()}
	err := db.WithContext(ctx).Save(rec).Error
	return ignoreUniqueViolation(err)
}
