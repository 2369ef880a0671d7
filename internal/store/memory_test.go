package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmelojr/zapgate/pkg/models"
)

func TestMemoryStoreUpsertMergesTimestamps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	delivered := int64(100)
	if err := s.UpsertMessage(ctx, &models.MessageRecord{
		ID: "m1", Session: "a", RemoteJID: "55@s.whatsapp.net",
		SentAt: 90, Status: models.StatusDelivered, DeliveredAt: &delivered,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A later upsert with nil deliveredAt must not clear the stored value.
	read := int64(120)
	if err := s.UpsertMessage(ctx, &models.MessageRecord{
		ID: "m1", Session: "a", RemoteJID: "55@s.whatsapp.net",
		SentAt: 90, Status: models.StatusRead, ReadAt: &read,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := s.GetMessage(ctx, "m1", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusRead {
		t.Errorf("status = %s, want read", rec.Status)
	}
	if rec.DeliveredAt == nil || *rec.DeliveredAt != 100 {
		t.Errorf("deliveredAt = %v, want 100", rec.DeliveredAt)
	}
	if rec.ReadAt == nil || *rec.ReadAt != 120 {
		t.Errorf("readAt = %v, want 120", rec.ReadAt)
	}
}

func TestMemoryStoreMessageKeyedBySession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertMessage(ctx, &models.MessageRecord{
		ID: "m1", Session: "a", SentAt: 1, Status: models.StatusSent,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := s.GetMessage(ctx, "m1", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-session get err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreOwnedMarks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Unix(1_700_000_000, 0)
	current := base
	s.SetClock(func() time.Time { return current })

	if err := s.MarkOwnedMessage(ctx, "a", "old"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	current = base.Add(48 * time.Hour)
	if err := s.MarkOwnedMessage(ctx, "a", "fresh"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// Re-marking must not refresh the original timestamp.
	if err := s.MarkOwnedMessage(ctx, "a", "old"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	owned, err := s.IsOwnedMessage(ctx, "a", "old")
	if err != nil || !owned {
		t.Fatalf("IsOwnedMessage = %v, %v", owned, err)
	}
	if owned, _ := s.IsOwnedMessage(ctx, "a", "never"); owned {
		t.Error("unmarked message reported as owned")
	}

	current = base.Add(72 * time.Hour)
	purged, err := s.PurgeOwnedMarks(ctx, 36*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if owned, _ := s.IsOwnedMessage(ctx, "a", "old"); owned {
		t.Error("purged mark still reported as owned")
	}
	if owned, _ := s.IsOwnedMessage(ctx, "a", "fresh"); !owned {
		t.Error("fresh mark was purged")
	}
}

func TestMemoryStoreWebhookURL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetWebhookURL(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get err = %v, want ErrNotFound", err)
	}
	if err := s.SetWebhookURL(ctx, "a", "https://example.com/hook"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetWebhookURL(ctx, "a", "https://example.com/hook2"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	url, err := s.GetWebhookURL(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if url != "https://example.com/hook2" {
		t.Errorf("url = %q, want replacement", url)
	}
}
