package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"releasedock/backend/internal/domain/changelog"
	"releasedock/backend/internal/domain/project"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var repoBase = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&changelog.Entry{}, &project.Member{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func seedEntry(t *testing.T, repo *ChangelogRepository, id string, status changelog.Status, updatedAt time.Time) *changelog.Entry {
	t.Helper()
	entry := &changelog.Entry{
		ID:        id,
		ProjectID: "proj",
		Status:    status,
		Title:     id,
		Content:   datatypes.JSON("{}"),
		Labels:    datatypes.JSON("[]"),
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	if err := repo.Create(context.Background(), entry); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return entry
}

func TestCompareAndSetLifecycle(t *testing.T) {
	repo := NewChangelogRepository(openTestDB(t))
	ctx := context.Background()
	seedEntry(t, repo, "e1", changelog.StatusDraft, repoBase)

	at := repoBase.Add(time.Hour)
	taskID := "task-1"
	ok, err := repo.CompareAndSetLifecycle(ctx, "e1", changelog.StatusDraft, 0, changelog.LifecyclePatch{
		Status:               changelog.StatusScheduled,
		ScheduledPublishTime: &at,
		DeferredTaskID:       &taskID,
	}, repoBase.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("first CAS should win, ok=%t err=%v", ok, err)
	}

	// 旧版本号的写入必须失败。
	ok, err = repo.CompareAndSetLifecycle(ctx, "e1", changelog.StatusDraft, 0, changelog.LifecyclePatch{
		Status: changelog.StatusDraft,
	}, repoBase.Add(2*time.Minute))
	if err != nil || ok {
		t.Fatalf("stale CAS must lose, ok=%t err=%v", ok, err)
	}

	stored, err := repo.FindByID(ctx, "e1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != changelog.StatusScheduled || stored.LifecycleVersion != 1 || !stored.HasPendingTask() {
		t.Fatalf("unexpected stored entry %+v", stored)
	}
	if err := stored.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	publishDate := at
	ok, err = repo.CompareAndSetLifecycle(ctx, "e1", changelog.StatusScheduled, 1, changelog.LifecyclePatch{
		Status:      changelog.StatusPublished,
		PublishDate: &publishDate,
	}, at)
	if err != nil || !ok {
		t.Fatalf("publish CAS should win, ok=%t err=%v", ok, err)
	}

	// PublishDate 为 nil 的迁移保留原发布日期。
	ok, err = repo.CompareAndSetLifecycle(ctx, "e1", changelog.StatusPublished, 2, changelog.LifecyclePatch{
		Status: changelog.StatusDraft,
	}, at.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("unpublish CAS should win, ok=%t err=%v", ok, err)
	}
	stored, _ = repo.FindByID(ctx, "e1")
	if stored.PublishDate == nil || !stored.PublishDate.Equal(publishDate) {
		t.Fatalf("publish date must be sticky, got %v", stored.PublishDate)
	}
	if stored.ScheduledPublishTime != nil || stored.DeferredTaskID != nil {
		t.Fatalf("schedule fields should be cleared, got %+v", stored)
	}
}

func TestUpdateContentRejectsLifecycleColumns(t *testing.T) {
	repo := NewChangelogRepository(openTestDB(t))
	ctx := context.Background()
	seedEntry(t, repo, "e1", changelog.StatusDraft, repoBase)

	if err := repo.UpdateContent(ctx, "e1", map[string]any{"status": "published"}, repoBase); err == nil {
		t.Fatalf("status must not be writable through UpdateContent")
	}
	if err := repo.UpdateContent(ctx, "missing", map[string]any{"title": "x"}, repoBase); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	later := repoBase.Add(time.Hour)
	if err := repo.UpdateContent(ctx, "e1", map[string]any{"title": "renamed"}, later); err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, _ := repo.FindByID(ctx, "e1")
	if stored.Title != "renamed" || !stored.UpdatedAt.Equal(later) || stored.LifecycleVersion != 0 {
		t.Fatalf("unexpected entry after update %+v", stored)
	}
}

func TestListOverdueScheduled(t *testing.T) {
	repo := NewChangelogRepository(openTestDB(t))
	ctx := context.Background()

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Hour, time.Hour} {
		id := fmt.Sprintf("e%d", i)
		seedEntry(t, repo, id, changelog.StatusDraft, repoBase)
		at := repoBase.Add(offset)
		task := "task-" + id
		if ok, err := repo.CompareAndSetLifecycle(ctx, id, changelog.StatusDraft, 0, changelog.LifecyclePatch{
			Status:               changelog.StatusScheduled,
			ScheduledPublishTime: &at,
			DeferredTaskID:       &task,
		}, repoBase); err != nil || !ok {
			t.Fatalf("schedule %s: ok=%t err=%v", id, ok, err)
		}
	}

	overdue, err := repo.ListOverdueScheduled(ctx, repoBase, 10)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 2 || overdue[0].ID != "e0" || overdue[1].ID != "e1" {
		t.Fatalf("expected e0,e1 oldest first, got %+v", overdue)
	}

	limited, _ := repo.ListOverdueScheduled(ctx, repoBase, 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied, got %d", len(limited))
	}
}

func TestDeleteMissingEntry(t *testing.T) {
	repo := NewChangelogRepository(openTestDB(t))
	ctx := context.Background()
	seedEntry(t, repo, "e1", changelog.StatusDraft, repoBase)

	if err := repo.Delete(ctx, "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "e1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "e1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("entry should be gone, got %v", err)
	}
}

func TestProjectMemberUpsert(t *testing.T) {
	members := NewProjectMemberRepository(openTestDB(t))
	ctx := context.Background()

	if got, err := members.FindMember(ctx, "proj", 1); err != nil || got != nil {
		t.Fatalf("expected no member, got %+v err=%v", got, err)
	}
	if err := members.Upsert(ctx, &project.Member{ProjectID: "proj", UserID: 1, Role: "viewer"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := members.Upsert(ctx, &project.Member{ProjectID: "proj", UserID: 1, Role: "owner"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := members.FindMember(ctx, "proj", 1)
	if err != nil || got == nil || got.Role != "owner" {
		t.Fatalf("expected owner, got %+v err=%v", got, err)
	}
}
