package receipts

import (
	"context"
	"log/slog"

	"github.com/dmelojr/zapgate/internal/metrics"
	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"
)

// Notifier delivers an applied status change to external subscribers.
type Notifier interface {
	Notify(ctx context.Context, session string, evt *models.WebhookEvent)
}

// Pipeline processes one session's raw lifecycle events in arrival order:
// normalize, consult the ownership filter, reconcile, notify. Each event is
// isolated: a failure is logged and the next event proceeds.
type Pipeline struct {
	owned      store.OwnershipStore
	normalizer *Normalizer
	reconciler *Reconciler
	notifier   Notifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewPipeline wires the status pipeline.
func NewPipeline(owned store.OwnershipStore, normalizer *Normalizer, reconciler *Reconciler, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		owned:      owned,
		normalizer: normalizer,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
		metrics:    m,
	}
}

// Handle processes a single raw transport event for the session. It never
// propagates a failure to the caller; this is the per-event recovery boundary.
func (p *Pipeline) Handle(ctx context.Context, session string, evt any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing event",
				"session", session, "panic", r)
		}
	}()

	p.metrics.EventsProcessed.WithLabelValues(eventShape(evt)).Inc()

	norm, ok := p.normalizer.Normalize(session, evt)
	if !ok {
		p.metrics.EventsDiscarded.WithLabelValues("unmapped").Inc()
		return
	}

	owned, err := p.owned.IsOwnedMessage(ctx, session, norm.MessageID)
	if err != nil {
		p.logger.Error("ownership check failed",
			"session", session, "message_id", norm.MessageID, "error", err)
		p.metrics.EventsDiscarded.WithLabelValues("ownership_error").Inc()
		return
	}
	if !owned {
		// Sent manually from another client on the same account; not ours
		// to track.
		p.logger.Debug("event for unowned message skipped",
			"session", session, "message_id", norm.MessageID)
		p.metrics.EventsDiscarded.WithLabelValues("unowned").Inc()
		return
	}

	rec, applied, err := p.reconciler.Apply(ctx, norm)
	if err != nil {
		p.logger.Error("status reconciliation failed",
			"session", session, "message_id", norm.MessageID, "error", err)
		p.metrics.EventsDiscarded.WithLabelValues("reconcile_error").Inc()
		return
	}
	if !applied {
		p.metrics.StatusSuppressed.Inc()
		return
	}

	p.metrics.StatusApplied.WithLabelValues(string(norm.Status)).Inc()
	p.notifier.Notify(ctx, session, models.NewWebhookEvent(rec, norm.Status))
}

func eventShape(evt any) string {
	switch evt.(type) {
	case transport.MessageNotice:
		return "notice"
	case transport.MessageUpdate:
		return "update"
	case transport.ReceiptUpdate:
		return "receipt"
	default:
		return "other"
	}
}
