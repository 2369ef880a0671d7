package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/pkg/models"
)

// Reconciler merges normalized status events into persisted message records.
// It is a monotonic lattice merge over sent < delivered < read with
// first-writer-wins latches on the delivered/read timestamps: the same
// physical event can arrive more than once (one acknowledgement per linked
// device) and must not corrupt the audit timestamps.
type Reconciler struct {
	messages store.MessageStore
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler over the given message store.
func NewReconciler(messages store.MessageStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{messages: messages, logger: logger}
}

// Apply merges one event. It returns the merged record and true when the
// event advanced the record, or (nil, false) when the event was suppressed as
// a duplicate or non-advancing transition.
func (r *Reconciler) Apply(ctx context.Context, evt models.StatusEvent) (*models.MessageRecord, bool, error) {
	if !evt.Status.Valid() {
		return nil, false, fmt.Errorf("invalid canonical status %q", evt.Status)
	}

	rec, err := r.messages.GetMessage(ctx, evt.MessageID, evt.Session)
	created := false
	if errors.Is(err, store.ErrNotFound) {
		// The send path should have written the record already, but status
		// events can race ahead of it.
		rec = &models.MessageRecord{
			ID:        evt.MessageID,
			Session:   evt.Session,
			RemoteJID: evt.RemoteJID,
			FromMe:    true,
			SentAt:    evt.Timestamp,
			Status:    models.StatusSent,
		}
		created = true
	} else if err != nil {
		return nil, false, fmt.Errorf("fetch record: %w", err)
	}

	if !created && !evt.Status.After(rec.Status) && timestampSet(rec, evt.Status) {
		r.logger.Debug("duplicate status suppressed",
			"session", evt.Session,
			"message_id", evt.MessageID,
			"status", evt.Status,
			"stored", rec.Status)
		return nil, false, nil
	}

	rec.Status = rec.Status.Max(evt.Status)
	switch evt.Status {
	case models.StatusDelivered:
		if rec.DeliveredAt == nil {
			ts := evt.Timestamp
			rec.DeliveredAt = &ts
		}
	case models.StatusRead:
		if rec.ReadAt == nil {
			ts := evt.Timestamp
			rec.ReadAt = &ts
		}
		// A read implies delivery; backfill when it was never separately
		// observed so deliveredAt <= readAt always holds.
		if rec.DeliveredAt == nil {
			rec.DeliveredAt = rec.ReadAt
		}
	}

	if err := r.messages.UpsertMessage(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("persist record: %w", err)
	}

	r.logger.Info("status applied",
		"session", evt.Session,
		"message_id", evt.MessageID,
		"status", evt.Status,
		"created", created)
	return rec, true, nil
}

// timestampSet reports whether the record field corresponding to the status
// already carries a value. SentAt is required, so it always counts as set.
func timestampSet(rec *models.MessageRecord, status models.DeliveryStatus) bool {
	switch status {
	case models.StatusDelivered:
		return rec.DeliveredAt != nil
	case models.StatusRead:
		return rec.ReadAt != nil
	default:
		return true
	}
}
