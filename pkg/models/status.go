package models

// DeliveryStatus is the canonical delivery-lifecycle value stored per message.
// Values are ordered: sent < delivered < read.
type DeliveryStatus string

const (
	// StatusSent indicates the message left this system.
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered indicates at least one recipient device acknowledged delivery.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusRead indicates the recipient read the message.
	StatusRead DeliveryStatus = "read"
)

// rank maps each status onto the monotonic ordering used by the reconciler.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// After reports whether s is strictly later than other in the lifecycle ordering.
func (s DeliveryStatus) After(other DeliveryStatus) bool {
	return s.rank() > other.rank()
}

// Max returns the later of s and other in the lifecycle ordering.
func (s DeliveryStatus) Max(other DeliveryStatus) DeliveryStatus {
	if other.After(s) {
		return other
	}
	return s
}

// Valid reports whether s is one of the three canonical statuses.
func (s DeliveryStatus) Valid() bool {
	return s.rank() > 0
}

// Callback returns the status in the form used by webhook payloads
// ("SENT", "DELIVERED", "READ").
func (s DeliveryStatus) Callback() string {
	switch s {
	case StatusSent:
		return "SENT"
	case StatusDelivered:
		return "DELIVERED"
	case StatusRead:
		return "READ"
	default:
		return ""
	}
}
