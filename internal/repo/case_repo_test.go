package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-case-sync/internal/domain"
)

func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("case_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedCase(t *testing.T, db *gorm.DB, id string, mutate func(*domain.Case)) *domain.Case {
	t.Helper()
	c := &domain.Case{
		CaseID:           id,
		DisplayID:        "D-" + id,
		OriginChatID:     "chat-origin",
		CaseChatID:       "chat-" + id,
		CredentialRef:    "ref-1",
		Status:           domain.StatusOpened,
		RequestingUserID: "u1",
		CreatedAt:        time.Now().UTC(),
	}
	if mutate != nil {
		mutate(c)
	}
	if err := PutCase(context.Background(), db, c); err != nil {
		t.Fatalf("PutCase(%s): %v", id, err)
	}
	return c
}

func TestGetCase_NotFound(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetCase(context.Background(), db, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutCase_UpsertAndIndexes(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedCase(t, db, "case-1", nil)

	got, err := GetCase(ctx, db, "case-1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got.DisplayID != c.DisplayID || got.Status != domain.StatusOpened {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// Indexed under both the origin chat and the dedicated channel.
	for _, chat := range []string{"chat-origin", "chat-case-1"} {
		cases, err := ListCasesByChat(ctx, db, chat)
		if err != nil {
			t.Fatalf("ListCasesByChat(%s): %v", chat, err)
		}
		if len(cases) != 1 || cases[0].CaseID != "case-1" {
			t.Fatalf("ListCasesByChat(%s) = %v", chat, cases)
		}
	}

	// Re-put is idempotent: no duplicate index rows.
	if err := PutCase(ctx, db, c); err != nil {
		t.Fatalf("second PutCase: %v", err)
	}
	var n int64
	if err := db.Model(&domain.ChatIndexEntry{}).Where("case_id = ?", "case-1").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("chat index rows = %d; want 2", n)
	}
}

func TestUpdateCaseFields(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "case-1", nil)

	now := time.Now().UTC()
	err := UpdateCaseFields(ctx, db, "case-1", map[string]any{
		"status":      domain.StatusResolved,
		"resolved_at": now,
	})
	if err != nil {
		t.Fatalf("UpdateCaseFields: %v", err)
	}
	got, _ := GetCase(ctx, db, "case-1")
	if got.Status != domain.StatusResolved || got.ResolvedAt == nil {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := UpdateCaseFields(ctx, db, "missing", map[string]any{"status": domain.StatusOpened}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCaseFields_RefusesWatermark(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "case-1", func(c *domain.Case) {
		c.LastCommunicationTime = "2026-01-02T00:00:00Z"
	})

	// The targeted-update path must never move the watermark, even backward
	// by accident via a stale caller snapshot.
	err := UpdateCaseFields(ctx, db, "case-1", map[string]any{
		"status":                  domain.StatusReopened,
		"last_communication_time": "2020-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("UpdateCaseFields: %v", err)
	}
	got, _ := GetCase(ctx, db, "case-1")
	if got.LastCommunicationTime != "2026-01-02T00:00:00Z" {
		t.Fatalf("watermark moved through field update: %q", got.LastCommunicationTime)
	}
	if got.Status != domain.StatusReopened {
		t.Fatalf("status update dropped: %v", got.Status)
	}
}

func TestAdvanceWatermark_Monotonic(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "case-1", nil)

	steps := []struct {
		ts   string
		want string
	}{
		{"2026-01-01T10:00:00Z", "2026-01-01T10:00:00Z"}, // first set
		{"2026-01-01T12:00:00Z", "2026-01-01T12:00:00Z"}, // forward
		{"2026-01-01T11:00:00Z", "2026-01-01T12:00:00Z"}, // stale advance ignored
		{"2026-01-01T12:00:00Z", "2026-01-01T12:00:00Z"}, // equal ignored
	}
	for _, s := range steps {
		if err := AdvanceWatermark(ctx, db, "case-1", s.ts); err != nil {
			t.Fatalf("AdvanceWatermark(%s): %v", s.ts, err)
		}
		got, _ := GetCase(ctx, db, "case-1")
		if got.LastCommunicationTime != s.want {
			t.Fatalf("after advance to %s: watermark = %q; want %q", s.ts, got.LastCommunicationTime, s.want)
		}
	}
}

func TestDeleteCase_ScrubsIndexes(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "case-1", nil)

	if err := DeleteCase(ctx, db, "case-1"); err != nil {
		t.Fatalf("DeleteCase: %v", err)
	}
	if _, err := GetCase(ctx, db, "case-1"); err != ErrNotFound {
		t.Fatalf("case still present after delete: %v", err)
	}
	var chats, users int64
	db.Model(&domain.ChatIndexEntry{}).Where("case_id = ?", "case-1").Count(&chats)
	db.Model(&domain.UserIndexEntry{}).Where("case_id = ?", "case-1").Count(&users)
	if chats != 0 || users != 0 {
		t.Fatalf("index rows remain: chats=%d users=%d", chats, users)
	}

	if err := DeleteCase(ctx, db, "case-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListCasesByUser_NewestFirst(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		i := i
		seedCase(t, db, fmt.Sprintf("case-%d", i), func(c *domain.Case) {
			c.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		})
	}

	got, err := ListCasesByUser(ctx, db, "u1", 2)
	if err != nil {
		t.Fatalf("ListCasesByUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2 (limit applied)", len(got))
	}
	if got[0].CaseID != "case-2" || got[1].CaseID != "case-1" {
		t.Fatalf("order = [%s %s]; want newest first", got[0].CaseID, got[1].CaseID)
	}
}

func TestListOpenCases(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "open-1", nil)
	seedCase(t, db, "done-1", func(c *domain.Case) { c.Status = domain.StatusResolved })

	got, err := ListOpenCases(ctx, db)
	if err != nil {
		t.Fatalf("ListOpenCases: %v", err)
	}
	if len(got) != 1 || got[0].CaseID != "open-1" {
		t.Fatalf("ListOpenCases = %v", got)
	}
}

func TestGetCaseByCaseChat_IgnoresOriginChat(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "case-1", nil)

	got, err := GetCaseByCaseChat(ctx, db, "chat-case-1")
	if err != nil || got.CaseID != "case-1" {
		t.Fatalf("GetCaseByCaseChat = %v, %v", got, err)
	}
	if _, err := GetCaseByCaseChat(ctx, db, "chat-origin"); err != ErrNotFound {
		t.Fatalf("origin chat must not match dedicated-channel lookup: %v", err)
	}
}

func TestScanCases(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "a", nil)
	seedCase(t, db, "b", func(c *domain.Case) { c.Status = domain.StatusResolved })

	got, err := ScanCases(ctx, db, func(c *domain.Case) bool { return c.Status.IsResolved() })
	if err != nil {
		t.Fatalf("ScanCases: %v", err)
	}
	if len(got) != 1 || got[0].CaseID != "b" {
		t.Fatalf("ScanCases = %v", got)
	}
}

func TestRebuildIndexes(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedCase(t, db, "case-1", nil)
	seedCase(t, db, "case-2", nil)

	// Simulate drift: wipe the indexes behind the store's back.
	if err := db.Where("1 = 1").Delete(&domain.ChatIndexEntry{}).Error; err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if err := db.Where("1 = 1").Delete(&domain.UserIndexEntry{}).Error; err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if got, _ := ListCasesByChat(ctx, db, "chat-origin"); len(got) != 0 {
		t.Fatalf("expected empty lookup after wipe, got %v", got)
	}

	n, err := RebuildIndexes(ctx, db)
	if err != nil {
		t.Fatalf("RebuildIndexes: %v", err)
	}
	if n != 2 {
		t.Fatalf("reindexed %d cases; want 2", n)
	}
	got, err := ListCasesByChat(ctx, db, "chat-origin")
	if err != nil || len(got) != 2 {
		t.Fatalf("lookup after rebuild = %v, %v", got, err)
	}
	users, err := ListCasesByUser(ctx, db, "u1", 10)
	if err != nil || len(users) != 2 {
		t.Fatalf("user lookup after rebuild = %v, %v", users, err)
	}
}
