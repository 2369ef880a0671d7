// Package transport defines the contract between the gateway core and the
// wire-protocol client: a per-session Client handle, an ordered event stream,
// and the raw notification shapes the event normalizer consumes.
package transport

import (
	"context"

	"github.com/dmelojr/zapgate/pkg/models"
)

// ConnectionUpdate reports a change in a session's connection lifecycle.
// QR carries a freshly issued pairing code when non-empty; Cause is populated
// on transitions to closed.
type ConnectionUpdate struct {
	State models.ConnectionState
	QR    string
	Cause DisconnectCause
}

// DisconnectCause classifies why a session closed.
type DisconnectCause struct {
	Reason string

	// LoggedOut marks a terminal authentication rejection. The supervisor
	// never reconnects these; the session stays closed until a human
	// re-initiates it.
	LoggedOut bool
}

// MessageNotice is the bulk receive/send notification shape. For messages
// originated by the authenticated account FromMe is true.
type MessageNotice struct {
	MessageID string
	RemoteJID string
	FromMe    bool
	Timestamp int64
}

// MessageUpdate is the progress-code notification shape. Code carries the
// numeric status (1 sent, 2 delivered, 3 played, 4 read); Text carries the
// textual variant some providers emit instead ("DELIVERY_ACK", "PLAYED").
type MessageUpdate struct {
	MessageID string
	RemoteJID string
	FromMe    bool
	Code      int
	Text      string
	Timestamp int64
}

// ReceiptUpdate is the receipt-stream notification shape with a textual kind:
// "delivered"/"delivery", "read", or "played".
type ReceiptUpdate struct {
	MessageID string
	RemoteJID string
	FromMe    bool
	Kind      string
	Timestamp int64
}

// SendResult is returned by a successful send.
type SendResult struct {
	MessageID string
	Timestamp int64
}

// Group describes one group chat the session participates in.
type Group struct {
	JID  string
	Name string
}

// Client is one live session handle. Events yields ConnectionUpdate,
// MessageNotice, MessageUpdate, and ReceiptUpdate values in arrival order.
// A transport-initiated close ends the stream with a ConnectionUpdate
// carrying StateClosed; a locally initiated Disconnect or Logout emits
// nothing, so consumers must also stop on their own cancellation signal.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	// SendPresence announces availability. Best effort after open.
	SendPresence(ctx context.Context) error

	// SendText sends a text message to the given JID.
	SendText(ctx context.Context, toJID, text string) (*SendResult, error)

	// JoinedGroups lists the groups the session participates in.
	JoinedGroups(ctx context.Context) ([]Group, error)

	// Logout disconnects and erases the session's credential material.
	Logout(ctx context.Context) error

	Events() <-chan any
}

// Dialer creates Clients bound to a session's credential material.
type Dialer interface {
	Dial(ctx context.Context, session string) (Client, error)

	// DeleteCredentials erases stored auth material without a live handle.
	// Idempotent; missing material is not an error.
	DeleteCredentials(ctx context.Context, session string) error

	// StoredSessions lists sessions with credential material on disk.
	StoredSessions() ([]string, error)
}
