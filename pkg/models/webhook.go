package models

import (
	"sync"
	"time"
)

// localizedZone is the timezone used for the human-readable timestamp in
// webhook payloads and read-receipt responses.
const localizedZone = "America/Sao_Paulo"

var (
	localizedLoc  *time.Location
	localizedOnce sync.Once
)

func localizedLocation() *time.Location {
	localizedOnce.Do(func() {
		loc, err := time.LoadLocation(localizedZone)
		if err != nil {
			loc = time.UTC
		}
		localizedLoc = loc
	})
	return localizedLoc
}

// Timestamps renders one epoch-second instant in the three forms consumers
// expect: raw epoch, RFC 3339 UTC, and a localized display string.
type Timestamps struct {
	Epoch     int64  `json:"epoch"`
	ISO       string `json:"iso"`
	Localized string `json:"localized"`
}

// NewTimestamps builds a Timestamps from epoch seconds. Returns nil when the
// epoch pointer is nil so optional fields marshal as JSON null.
func NewTimestamps(epoch *int64) *Timestamps {
	if epoch == nil {
		return nil
	}
	t := time.Unix(*epoch, 0)
	return &Timestamps{
		Epoch:     *epoch,
		ISO:       t.UTC().Format(time.RFC3339),
		Localized: t.In(localizedLocation()).Format("02/01/2006 15:04:05"),
	}
}

// WebhookEvent is the JSON body POSTed to a session's registered webhook URL
// whenever a message's delivery status advances.
type WebhookEvent struct {
	ProfileID   string      `json:"profileId"`
	MessageID   string      `json:"messageId"`
	Phone       string      `json:"phone"`
	Status      string      `json:"status"`
	Type        string      `json:"type"`
	DeliveredAt *Timestamps `json:"deliveredAt"`
	ReadAt      *Timestamps `json:"readAt"`
}

// CallbackType is the constant event type carried by every webhook payload.
const CallbackType = "ReceivedCallback"

// NewWebhookEvent builds the payload for an applied status change.
func NewWebhookEvent(rec *MessageRecord, applied DeliveryStatus) *WebhookEvent {
	return &WebhookEvent{
		ProfileID:   rec.Session,
		MessageID:   rec.ID,
		Phone:       rec.RemoteJID,
		Status:      applied.Callback(),
		Type:        CallbackType,
		DeliveredAt: NewTimestamps(rec.DeliveredAt),
		ReadAt:      NewTimestamps(rec.ReadAt),
	}
}
