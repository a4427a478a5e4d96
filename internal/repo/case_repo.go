// Package repo implements the data persistence layer for tracked cases.
// This file provides repository functions for the Case model and its two
// secondary indexes (chat -> case ids, user -> ordered case references).
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only CRUD persistence
// and query composition.
//
// Concurrency model: there are no multi-key transactions. The primary record
// and its index rows are dual-written best effort; index rows are idempotent
// (membership is checked before append and unique-violation races are
// tolerated) and can always be re-derived from a full case scan via
// RebuildIndexes. Field updates are targeted so a concurrent gateway and
// poller writing different fields of the same case never clobber each other,
// and the watermark is only ever advanced through a guarded max-merge.
//
// Error semantics:
//   - When a case is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-case-sync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetCase fetches a single case by its external case id. If the record does
// not exist, it returns ErrNotFound.
func GetCase(ctx context.Context, db *gorm.DB, caseID string) (*domain.Case, error) {
	var c domain.Case
	if err := db.WithContext(ctx).Where("case_id = ?", caseID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// PutCase upserts the full case record and refreshes its index entries.
// Index writes are best effort: a failure there is returned to the caller but
// never undoes the primary write, and RebuildIndexes repairs any drift.
func PutCase(ctx context.Context, db *gorm.DB, c *domain.Case) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Save(c).Error; err != nil {
		return err
	}
	return refreshIndexes(ctx, db, c)
}

// UpdateCaseFields applies a targeted partial update to the case row.
// It returns ErrNotFound when the case does not exist. Callers must only
// include fields they own; the watermark is deliberately excluded from this
// path (see AdvanceWatermark).
func UpdateCaseFields(ctx context.Context, db *gorm.DB, caseID string, fields map[string]any) error {
	delete(fields, "last_communication_time")
	res := db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("case_id = ?", caseID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceWatermark moves last_communication_time forward to ts, but never
// backward: the comparison runs inside the UPDATE so concurrent advances from
// the gateway and the poller merge to the maximum instead of last-write-wins.
// Timestamps are RFC 3339 UTC strings, which order lexically.
func AdvanceWatermark(ctx context.Context, db *gorm.DB, caseID, ts string) error {
	return db.WithContext(ctx).
		Model(&domain.Case{}).
		Where("case_id = ? AND (last_communication_time IS NULL OR last_communication_time = '' OR last_communication_time < ?)", caseID, ts).
		Update("last_communication_time", ts).Error
}

// DeleteCase removes the case row and scrubs both indexes. Cases are only
// ever deleted through explicit administrative action; the sync engine itself
// never destroys them.
func DeleteCase(ctx context.Context, db *gorm.DB, caseID string) error {
	c, err := GetCase(ctx, db, caseID)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Where("case_id = ?", caseID).Delete(&domain.ChatIndexEntry{}).Error; err != nil {
		return err
	}
	if err := db.WithContext(ctx).Where("case_id = ?", caseID).Delete(&domain.UserIndexEntry{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Where("case_id = ?", c.CaseID).Delete(&domain.Case{}).Error
}

// ListAllCases returns every tracked case.
func ListAllCases(ctx context.Context, db *gorm.DB) ([]domain.Case, error) {
	var out []domain.Case
	err := db.WithContext(ctx).Find(&out).Error
	return out, err
}

// ScanCases returns all cases matching pred. This is a full scan; use the
// index-backed lookups where possible.
func ScanCases(ctx context.Context, db *gorm.DB, pred func(*domain.Case) bool) ([]domain.Case, error) {
	all, err := ListAllCases(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Case, 0, len(all))
	for i := range all {
		if pred(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// ListOpenCases returns all cases whose status is not resolved. This is the
// reconciliation poller's input set.
func ListOpenCases(ctx context.Context, db *gorm.DB) ([]domain.Case, error) {
	var out []domain.Case
	err := db.WithContext(ctx).
		Where("status <> ?", domain.StatusResolved).
		Find(&out).Error
	return out, err
}

// ListCasesByChat returns all cases indexed under chatID. The chat index
// covers both origin chats and dedicated case channels.
func ListCasesByChat(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Case, error) {
	var entries []domain.ChatIndexEntry
	if err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at asc").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Case, 0, len(entries))
	for _, e := range entries {
		c, err := GetCase(ctx, db, e.CaseID)
		if errors.Is(err, ErrNotFound) {
			continue // stale index entry; repaired by RebuildIndexes
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// ListCasesByUser returns up to limit cases requested by userID, newest
// first. Ordering comes from the user index, which carries case creation
// times precisely so this listing avoids a scan.
func ListCasesByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Case, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []domain.UserIndexEntry
	if err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("case_created_at desc").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Case, 0, len(entries))
	for _, e := range entries {
		c, err := GetCase(ctx, db, e.CaseID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// GetCaseByCaseChat looks a case up by its dedicated channel only. Origin
// chats are deliberately not matched here: the chat index mixes both, so this
// goes straight to the case table's case_chat_id column.
func GetCaseByCaseChat(ctx context.Context, db *gorm.DB, chatID string) (*domain.Case, error) {
	var c domain.Case
	if err := db.WithContext(ctx).Where("case_chat_id = ?", chatID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// RebuildIndexes drops both secondary indexes and re-derives them from a full
// case scan. This is the repair path for any drift the best-effort dual
// writes may have left behind. It returns the number of cases reindexed.
func RebuildIndexes(ctx context.Context, db *gorm.DB) (int, error) {
	if err := db.WithContext(ctx).Where("1 = 1").Delete(&domain.ChatIndexEntry{}).Error; err != nil {
		return 0, err
	}
	if err := db.WithContext(ctx).Where("1 = 1").Delete(&domain.UserIndexEntry{}).Error; err != nil {
		return 0, err
	}
	all, err := ListAllCases(ctx, db)
	if err != nil {
		return 0, err
	}
	for i := range all {
		if err := refreshIndexes(ctx, db, &all[i]); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

// refreshIndexes upserts the index rows implied by c: one chat entry for the
// origin chat, one for the dedicated channel when set, and one user entry.
func refreshIndexes(ctx context.Context, db *gorm.DB, c *domain.Case) error {
	if c.OriginChatID != "" {
		if err := upsertChatIndex(ctx, db, c.OriginChatID, c.CaseID); err != nil {
			return err
		}
	}
	if c.CaseChatID != "" {
		if err := upsertChatIndex(ctx, db, c.CaseChatID, c.CaseID); err != nil {
			return err
		}
	}
	if c.RequestingUserID != "" {
		if err := upsertUserIndex(ctx, db, c.RequestingUserID, c.CaseID, c.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func upsertChatIndex(ctx context.Context, db *gorm.DB, chatID, caseID string) error {
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.ChatIndexEntry{}).
		Where("chat_id = ? AND case_id = ?", chatID, caseID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	err := db.WithContext(ctx).Create(&domain.ChatIndexEntry{
		ID:     uuid.NewString(),
		ChatID: chatID,
		CaseID: caseID,
	}).Error
	return ignoreUniqueViolation(err)
}

func upsertUserIndex(ctx context.Context, db *gorm.DB, userID, caseID string, createdAt time.Time) error {
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.UserIndexEntry{}).
		Where("user_id = ? AND case_id = ?", userID, caseID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	err := db.WithContext(ctx).Create(&domain.UserIndexEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		CaseID:        caseID,
		CaseCreatedAt: createdAt,
	}).Error
	return ignoreUniqueViolation(err)
}

// ignoreUniqueViolation treats a unique-constraint failure as success: a
// concurrent writer already inserted the same membership row, which is the
// outcome we wanted. glebarez/sqlite often returns plain-text errors for
// UNIQUE violations.
func ignoreUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	low := strings.ToLower(err.Error())
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") {
		return nil
	}
	return err
}
