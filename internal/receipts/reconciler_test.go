package receipts

import (
	"context"
	"math/rand"
	"testing"

	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/pkg/models"
)

func event(status models.DeliveryStatus, ts int64) models.StatusEvent {
	return models.StatusEvent{
		Session:   "acme",
		MessageID: "MSG1",
		RemoteJID: "5511999990000@s.whatsapp.net",
		FromMe:    true,
		Status:    status,
		Timestamp: ts,
	}
}

func seedSent(t *testing.T, s *store.MemoryStore, ts int64) {
	t.Helper()
	if err := s.UpsertMessage(context.Background(), &models.MessageRecord{
		ID: "MSG1", Session: "acme", RemoteJID: "5511999990000@s.whatsapp.net",
		FromMe: true, SentAt: ts, Status: models.StatusSent,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestApplySynthesizesMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewReconciler(s, testLogger())

	// Delivered racing ahead of the send path.
	rec, applied, err := r.Apply(ctx, event(models.StatusDelivered, 100))
	if err != nil || !applied {
		t.Fatalf("apply = %v, %v", applied, err)
	}
	if rec.SentAt != 100 || rec.Status != models.StatusDelivered {
		t.Errorf("record = %+v", rec)
	}
	if rec.DeliveredAt == nil || *rec.DeliveredAt != 100 {
		t.Errorf("deliveredAt = %v", rec.DeliveredAt)
	}
}

func TestApplyDuplicateSentIsNoop(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewReconciler(s, testLogger())
	seedSent(t, s, 100)

	_, applied, err := r.Apply(ctx, event(models.StatusSent, 100))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied {
		t.Error("redundant sent confirmation reported as a change")
	}
}

func TestApplyDeliveredFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewReconciler(s, testLogger())
	seedSent(t, s, 100)

	if _, applied, err := r.Apply(ctx, event(models.StatusDelivered, 110)); err != nil || !applied {
		t.Fatalf("first delivered: applied=%v err=%v", applied, err)
	}
	// Second acknowledgement from another linked device, later timestamp.
	if _, applied, err := r.Apply(ctx, event(models.StatusDelivered, 115)); err != nil {
		t.Fatalf("dup delivered: %v", err)
	} else if applied {
		t.Error("duplicate delivered was not suppressed")
	}

	rec, err := s.GetMessage(ctx, "MSG1", "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.DeliveredAt == nil || *rec.DeliveredAt != 110 {
		t.Errorf("deliveredAt = %v, want 110 (first writer)", rec.DeliveredAt)
	}
}

func TestApplyReadBeforeDeliveredBackfills(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewReconciler(s, testLogger())
	seedSent(t, s, 100)

	if _, applied, err := r.Apply(ctx, event(models.StatusRead, 130)); err != nil || !applied {
		t.Fatalf("read: applied=%v err=%v", applied, err)
	}

	rec, err := s.GetMessage(ctx, "MSG1", "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusRead {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.DeliveredAt == nil || *rec.DeliveredAt != 130 {
		t.Errorf("deliveredAt = %v, want backfilled 130", rec.DeliveredAt)
	}
	if rec.ReadAt == nil || *rec.ReadAt != 130 {
		t.Errorf("readAt = %v, want 130", rec.ReadAt)
	}
	if *rec.DeliveredAt > *rec.ReadAt {
		t.Error("deliveredAt > readAt")
	}

	// A late delivered ack must not regress status or overwrite timestamps.
	if _, applied, err := r.Apply(ctx, event(models.StatusDelivered, 120)); err != nil {
		t.Fatalf("late delivered: %v", err)
	} else if applied {
		t.Error("late delivered after read was not suppressed")
	}
	rec, _ = s.GetMessage(ctx, "MSG1", "acme")
	if rec.Status != models.StatusRead || *rec.DeliveredAt != 130 {
		t.Errorf("record regressed: %+v", rec)
	}
}

func TestApplyStatusMonotonicUnderAnyOrder(t *testing.T) {
	// Property: for all arrival orders and duplications, stored status never
	// decreases under sent < delivered < read.
	ctx := context.Background()
	base := []models.StatusEvent{
		event(models.StatusSent, 100),
		event(models.StatusDelivered, 110),
		event(models.StatusDelivered, 111),
		event(models.StatusRead, 120),
		event(models.StatusRead, 121),
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		s := store.NewMemoryStore()
		r := NewReconciler(s, testLogger())
		seedSent(t, s, 100)

		events := make([]models.StatusEvent, len(base))
		copy(events, base)
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		last := models.StatusSent
		for _, evt := range events {
			if _, _, err := r.Apply(ctx, evt); err != nil {
				t.Fatalf("apply: %v", err)
			}
			rec, err := s.GetMessage(ctx, "MSG1", "acme")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if last.After(rec.Status) {
				t.Fatalf("status regressed from %s to %s", last, rec.Status)
			}
			last = rec.Status
		}

		rec, _ := s.GetMessage(ctx, "MSG1", "acme")
		if rec.Status != models.StatusRead {
			t.Fatalf("final status = %s, want read", rec.Status)
		}
		if rec.DeliveredAt == nil || rec.ReadAt == nil || *rec.DeliveredAt > *rec.ReadAt {
			t.Fatalf("timestamps inconsistent: delivered=%v read=%v", rec.DeliveredAt, rec.ReadAt)
		}
	}
}
