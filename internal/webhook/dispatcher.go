// Package webhook delivers status-change notifications to per-session webhook
// URLs. Delivery is at-most-once: failures are logged and dropped.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmelojr/zapgate/internal/metrics"
	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/pkg/models"
)

const defaultTimeout = 10 * time.Second

// URLSource resolves the webhook URL registered for a session.
type URLSource interface {
	GetWebhookURL(ctx context.Context, session string) (string, error)
}

// Dispatcher posts webhook events. Notify never blocks the caller's event
// processing: the HTTP round trip runs on its own goroutine with its own
// timeout.
type Dispatcher struct {
	urls    URLSource
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	// async controls whether the POST runs on a separate goroutine. Tests
	// disable it to assert on delivery synchronously.
	async bool
}

// NewDispatcher creates a Dispatcher with the given URL source.
func NewDispatcher(urls URLSource, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		urls:    urls,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
		metrics: m,
		async:   true,
	}
}

// SetSynchronous makes Notify deliver inline. Test hook.
func (d *Dispatcher) SetSynchronous() {
	d.async = false
}

// Notify sends the event to the session's registered URL. Sessions without a
// registration are a no-op. Failures are logged, counted, and dropped.
func (d *Dispatcher) Notify(ctx context.Context, session string, evt *models.WebhookEvent) {
	url, err := d.urls.GetWebhookURL(ctx, session)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		d.logger.Error("webhook url lookup failed", "session", session, "error", err)
		return
	}

	if d.async {
		go d.post(session, url, evt)
		return
	}
	d.post(session, url, evt)
}

func (d *Dispatcher) post(session, url string, evt *models.WebhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error("webhook payload marshal failed", "session", session, "error", err)
		d.metrics.WebhooksFailed.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("webhook request build failed", "session", session, "error", err)
		d.metrics.WebhooksFailed.Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("webhook delivery failed",
			"session", session, "url", url, "error", err)
		d.metrics.WebhooksFailed.Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Error("webhook delivery rejected",
			"session", session, "url", url,
			"status", fmt.Sprintf("%d", resp.StatusCode))
		d.metrics.WebhooksFailed.Inc()
		return
	}

	d.logger.Info("webhook delivered",
		"session", session,
		"message_id", evt.MessageID,
		"status", evt.Status)
	d.metrics.WebhooksSent.Inc()
}
