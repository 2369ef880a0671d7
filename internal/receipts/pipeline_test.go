package receipts

import (
	"context"
	"errors"
	"testing"

	"github.com/dmelojr/zapgate/internal/metrics"
	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"
)

type captureNotifier struct {
	events []*models.WebhookEvent
}

func (c *captureNotifier) Notify(ctx context.Context, session string, evt *models.WebhookEvent) {
	c.events = append(c.events, evt)
}

func newTestPipeline(s *store.MemoryStore) (*Pipeline, *captureNotifier) {
	logger := testLogger()
	notifier := &captureNotifier{}
	p := NewPipeline(
		s,
		NewNormalizer(logger),
		NewReconciler(s, logger),
		notifier,
		logger,
		metrics.NewUnregistered(),
	)
	return p, notifier
}

// sendMessage mimics the send path: record and ownership mark written before
// any status event is processed.
func sendMessage(t *testing.T, s *store.MemoryStore, session, id, jid string, ts int64) {
	t.Helper()
	ctx := context.Background()
	if err := s.MarkOwnedMessage(ctx, session, id); err != nil {
		t.Fatalf("mark owned: %v", err)
	}
	if err := s.UpsertMessage(ctx, &models.MessageRecord{
		ID: id, Session: session, RemoteJID: jid, FromMe: true,
		SentAt: ts, Status: models.StatusSent,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestPipelineLifecycleEmitsDedupedWebhooks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p, notifier := newTestPipeline(s)

	const (
		session = "acme"
		msgID   = "MSG1"
		jid     = "5511999990000@s.whatsapp.net"
	)
	sendMessage(t, s, session, msgID, jid, 100)

	// sent@T0, delivered@T1, duplicate delivered@T1b, read@T2.
	for _, evt := range []any{
		transport.MessageNotice{MessageID: msgID, RemoteJID: jid, FromMe: true, Timestamp: 100},
		transport.MessageUpdate{MessageID: msgID, RemoteJID: jid, FromMe: true, Code: 2, Timestamp: 110},
		transport.ReceiptUpdate{MessageID: msgID, RemoteJID: jid, Kind: "delivered", Timestamp: 111},
		transport.MessageUpdate{MessageID: msgID, RemoteJID: jid, FromMe: true, Code: 4, Timestamp: 120},
	} {
		p.Handle(ctx, session, evt)
	}

	rec, err := s.GetMessage(ctx, msgID, session)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusRead || rec.SentAt != 100 {
		t.Errorf("record = %+v", rec)
	}
	if rec.DeliveredAt == nil || *rec.DeliveredAt != 110 {
		t.Errorf("deliveredAt = %v, want 110", rec.DeliveredAt)
	}
	if rec.ReadAt == nil || *rec.ReadAt != 120 {
		t.Errorf("readAt = %v, want 120", rec.ReadAt)
	}

	if len(notifier.events) != 2 {
		t.Fatalf("webhook calls = %d, want 2 (duplicate delivered produces none)", len(notifier.events))
	}
	if notifier.events[0].Status != "DELIVERED" || notifier.events[1].Status != "READ" {
		t.Errorf("webhook statuses = %s, %s", notifier.events[0].Status, notifier.events[1].Status)
	}
	if notifier.events[1].DeliveredAt == nil || notifier.events[1].DeliveredAt.Epoch != 110 {
		t.Errorf("read webhook deliveredAt = %+v", notifier.events[1].DeliveredAt)
	}
}

func TestPipelineSkipsUnownedMessages(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p, notifier := newTestPipeline(s)

	// Sent manually from another client on the same account: never marked.
	for _, evt := range []any{
		transport.MessageNotice{MessageID: "HUMAN1", RemoteJID: "r", FromMe: true, Timestamp: 100},
		transport.ReceiptUpdate{MessageID: "HUMAN1", RemoteJID: "r", Kind: "read", Timestamp: 120},
	} {
		p.Handle(ctx, "acme", evt)
	}

	if _, err := s.GetMessage(ctx, "HUMAN1", "acme"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unowned message produced a record: err = %v", err)
	}
	if len(notifier.events) != 0 {
		t.Errorf("unowned message produced %d webhook calls", len(notifier.events))
	}
}

func TestPipelineIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p, notifier := newTestPipeline(s)

	sendMessage(t, s, "acme", "MSG1", "r", 100)

	// A malformed sibling (no message id) must not affect the next event.
	p.Handle(ctx, "acme", transport.ReceiptUpdate{Kind: "read", Timestamp: 105})
	p.Handle(ctx, "acme", transport.ReceiptUpdate{MessageID: "MSG1", RemoteJID: "r", Kind: "delivered", Timestamp: 110})

	rec, err := s.GetMessage(ctx, "MSG1", "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusDelivered {
		t.Errorf("status = %s, want delivered", rec.Status)
	}
	if len(notifier.events) != 1 {
		t.Errorf("webhook calls = %d, want 1", len(notifier.events))
	}
}

func TestPipelineSentEventAfterSendPathIsQuiet(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p, notifier := newTestPipeline(s)

	sendMessage(t, s, "acme", "MSG1", "r", 100)
	p.Handle(ctx, "acme", transport.MessageNotice{MessageID: "MSG1", RemoteJID: "r", FromMe: true, Timestamp: 100})

	if len(notifier.events) != 0 {
		t.Errorf("redundant send confirmation produced %d webhook calls", len(notifier.events))
	}
}

func TestPipelineRacingEventSynthesizesRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p, notifier := newTestPipeline(s)

	// Mark written by the send path, but the record write lost the race.
	if err := s.MarkOwnedMessage(ctx, "acme", "MSG1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	p.Handle(ctx, "acme", transport.MessageNotice{MessageID: "MSG1", RemoteJID: "r", FromMe: true, Timestamp: 100})

	rec, err := s.GetMessage(ctx, "MSG1", "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusSent || rec.SentAt != 100 {
		t.Errorf("record = %+v", rec)
	}
	if len(notifier.events) != 1 || notifier.events[0].Status != "SENT" {
		t.Errorf("webhook calls = %+v, want one SENT", notifier.events)
	}
}
