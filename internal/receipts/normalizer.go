// Package receipts contains the status pipeline: normalization of raw
// lifecycle notifications, the ownership filter consult, and the monotonic
// reconciliation of message records.
package receipts

import (
	"log/slog"
	"strings"

	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"
)

// Progress codes carried by the message-update notification shape.
const (
	codeSent      = 1
	codeDelivered = 2
	codePlayed    = 3
	codeRead      = 4
)

// Normalizer maps the three raw notification shapes into canonical
// StatusEvents. Raw codes never leak past this boundary.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize translates one raw event for the given session. ok is false when
// the event carries no trackable status: missing message id, a notice for a
// message the account did not originate, an unmapped code, or the untracked
// played acknowledgement.
func (n *Normalizer) Normalize(session string, evt any) (models.StatusEvent, bool) {
	switch v := evt.(type) {
	case transport.MessageNotice:
		if v.MessageID == "" {
			return models.StatusEvent{}, false
		}
		// Only notifications flagged as our own account's sends confirm a
		// send; inbound messages are not tracked here.
		if !v.FromMe {
			return models.StatusEvent{}, false
		}
		return models.StatusEvent{
			Session:   session,
			MessageID: v.MessageID,
			RemoteJID: v.RemoteJID,
			FromMe:    true,
			Status:    models.StatusSent,
			Timestamp: v.Timestamp,
		}, true

	case transport.MessageUpdate:
		if v.MessageID == "" {
			return models.StatusEvent{}, false
		}
		status, ok := n.progressStatus(session, v)
		if !ok {
			return models.StatusEvent{}, false
		}
		return models.StatusEvent{
			Session:   session,
			MessageID: v.MessageID,
			RemoteJID: v.RemoteJID,
			FromMe:    v.FromMe,
			Status:    status,
			Timestamp: v.Timestamp,
		}, true

	case transport.ReceiptUpdate:
		if v.MessageID == "" {
			return models.StatusEvent{}, false
		}
		status, ok := receiptStatus(v.Kind)
		if !ok {
			n.logger.Debug("unmapped receipt kind",
				"session", session, "kind", v.Kind, "message_id", v.MessageID)
			return models.StatusEvent{}, false
		}
		return models.StatusEvent{
			Session:   session,
			MessageID: v.MessageID,
			RemoteJID: v.RemoteJID,
			FromMe:    v.FromMe,
			Status:    status,
			Timestamp: v.Timestamp,
		}, true
	}

	return models.StatusEvent{}, false
}

func (n *Normalizer) progressStatus(session string, v transport.MessageUpdate) (models.DeliveryStatus, bool) {
	text := strings.ToUpper(v.Text)
	switch {
	case v.Code == codeSent:
		return models.StatusSent, true
	case v.Code == codeDelivered || text == "DELIVERY_ACK":
		return models.StatusDelivered, true
	case v.Code == codePlayed || text == "PLAYED":
		// Audio-played acknowledgement is deliberately not tracked.
		n.logger.Debug("ignoring played acknowledgement",
			"session", session, "message_id", v.MessageID)
		return "", false
	case v.Code == codeRead:
		return models.StatusRead, true
	default:
		n.logger.Debug("unmapped progress code",
			"session", session, "code", v.Code, "text", v.Text, "message_id", v.MessageID)
		return "", false
	}
}

func receiptStatus(kind string) (models.DeliveryStatus, bool) {
	switch strings.ToLower(kind) {
	case "delivered", "delivery":
		return models.StatusDelivered, true
	case "read", "played":
		return models.StatusRead, true
	default:
		return "", false
	}
}
