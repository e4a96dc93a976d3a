package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, logger.New("error", "test"))
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &jobforge.Job{
		ID:          "j1",
		Queue:       "notifications",
		Type:        "send-notification",
		Payload:     json.RawMessage(`{"user":"u1"}`),
		Status:      jobforge.StatusWaiting,
		MaxAttempts: 3,
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Queue != "notifications" || got.Status != jobforge.StatusWaiting {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &jobforge.Job{ID: "j1", Queue: "notifications", Type: "x", Status: jobforge.StatusWaiting}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(ctx, job)
	if !jobforge.HasCode(err, jobforge.CodeDuplicate) {
		t.Fatalf("expected CodeDuplicate, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !jobforge.HasCode(err, jobforge.CodeNotFound) {
		t.Fatalf("expected CodeNotFound, got %v", err)
	}
}

func TestUpdatePatchesAndReturnsRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := &jobforge.Job{ID: "j1", Queue: "notifications", Type: "x", Status: jobforge.StatusWaiting}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := s.Update(ctx, "j1", map[string]interface{}{"status": jobforge.StatusActive, "attempts": 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != jobforge.StatusActive || updated.Attempts != 1 {
		t.Fatalf("unexpected job after update: %+v", updated)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(context.Background(), "missing", map[string]interface{}{"status": jobforge.StatusActive})
	if !jobforge.HasCode(err, jobforge.CodeNotFound) {
		t.Fatalf("expected CodeNotFound, got %v", err)
	}
}

func TestQueryFiltersByQueueAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, q := range []string{"notifications", "cleanup", "notifications"} {
		job := &jobforge.Job{
			ID:     jobIDFor(i),
			Queue:  q,
			Type:   "x",
			Status: jobforge.StatusWaiting,
		}
		if err := s.Create(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	result, err := s.Query(ctx, jobforge.Filter{Queue: "notifications"}, "", jobforge.Page{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Total != 2 || len(result.Jobs) != 2 {
		t.Fatalf("expected 2 notifications jobs, got total=%d len=%d", result.Total, len(result.Jobs))
	}
}

func TestGetQueueDescriptorCreatesDefault(t *testing.T) {
	s := newTestStore(t)
	desc, err := s.GetQueueDescriptor(context.Background(), "notifications")
	if err != nil {
		t.Fatalf("get descriptor: %v", err)
	}
	if desc.Configuration.Concurrency != 5 || !desc.IsActive {
		t.Fatalf("unexpected default descriptor: %+v", desc)
	}

	again, err := s.GetQueueDescriptor(context.Background(), "notifications")
	if err != nil {
		t.Fatalf("get descriptor again: %v", err)
	}
	if again.Name != desc.Name {
		t.Fatalf("expected the same descriptor to be reused")
	}
}

func TestTrimRetentionKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		job := &jobforge.Job{
			ID:     jobIDFor(i),
			Queue:  "cleanup",
			Type:   "x",
			Status: jobforge.StatusCompleted,
		}
		if err := s.Create(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	removed, err := s.TrimRetention(ctx, "cleanup", 2, 2)
	if err != nil {
		t.Fatalf("trim retention: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed keeping 2 of 5, got %d", removed)
	}
}

func jobIDFor(i int) string {
	return "job-" + string(rune('a'+i))
}
