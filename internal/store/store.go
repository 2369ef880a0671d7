// Package store defines the persistence contract for message records,
// owned-message marks, and webhook registrations, with Postgres and
// in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dmelojr/zapgate/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	errInvalidRecord = errors.New("record requires session and id")
)

// MessageStore persists delivery-lifecycle records.
type MessageStore interface {
	// UpsertMessage merge-writes a record keyed by (ID, Session). A set
	// deliveredAt/readAt column is never cleared by an upsert carrying nil.
	UpsertMessage(ctx context.Context, rec *models.MessageRecord) error

	// GetMessage returns the record for (id, session) or ErrNotFound.
	GetMessage(ctx context.Context, id, session string) (*models.MessageRecord, error)
}

// OwnershipStore tracks which message ids this system originated.
type OwnershipStore interface {
	// MarkOwnedMessage records that this system sent the message. Idempotent.
	MarkOwnedMessage(ctx context.Context, session, id string) error

	// IsOwnedMessage reports whether the message was sent by this system.
	IsOwnedMessage(ctx context.Context, session, id string) (bool, error)

	// PurgeOwnedMarks deletes marks older than the given age and returns the
	// number removed. Invoked by the housekeeping ticker, not the core.
	PurgeOwnedMarks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// WebhookStore holds at most one webhook URL per session.
type WebhookStore interface {
	SetWebhookURL(ctx context.Context, session, url string) error

	// GetWebhookURL returns the registered URL or ErrNotFound.
	GetWebhookURL(ctx context.Context, session string) (string, error)
}

// Store groups the persistence surfaces the gateway needs.
type Store interface {
	MessageStore
	OwnershipStore
	WebhookStore
	Close() error
}
