package models

// MessageRecord is the persisted delivery-lifecycle record for one outbound
// message, keyed by (ID, Session). Records are created when this system sends
// a message and mutated only by the status reconciler; they are never deleted.
type MessageRecord struct {
	ID        string
	Session   string
	RemoteJID string
	FromMe    bool

	// SentAt is the epoch-second timestamp the message was sent. Always set.
	SentAt int64

	Status DeliveryStatus

	// DeliveredAt and ReadAt are epoch seconds, nil until observed.
	// Once set they are never overwritten.
	DeliveredAt *int64
	ReadAt      *int64
}

// Clone returns a deep copy of the record.
func (r *MessageRecord) Clone() *MessageRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.DeliveredAt != nil {
		v := *r.DeliveredAt
		out.DeliveredAt = &v
	}
	if r.ReadAt != nil {
		v := *r.ReadAt
		out.ReadAt = &v
	}
	return &out
}

// StatusEvent is the canonical form every raw transport notification is
// normalized into before reconciliation.
type StatusEvent struct {
	Session   string
	MessageID string
	RemoteJID string
	FromMe    bool
	Status    DeliveryStatus
	Timestamp int64
}
