package store

import (
	"context"
	"sync"
	"time"

	"github.com/dmelojr/zapgate/pkg/models"
)

type messageKey struct {
	session string
	id      string
}

// MemoryStore is an in-memory Store used in tests and for running the gateway
// without a database. It mirrors the Postgres merge-write semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[messageKey]*models.MessageRecord
	owned    map[messageKey]time.Time
	webhooks map[string]string

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[messageKey]*models.MessageRecord),
		owned:    make(map[messageKey]time.Time),
		webhooks: make(map[string]string),
		now:      time.Now,
	}
}

// SetClock overrides the mark-timestamp clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) UpsertMessage(ctx context.Context, rec *models.MessageRecord) error {
	if rec == nil || rec.ID == "" || rec.Session == "" {
		return errInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey{session: rec.Session, id: rec.ID}
	incoming := rec.Clone()
	existing, ok := s.messages[key]
	if !ok {
		s.messages[key] = incoming
		return nil
	}

	// Same merge rule as the SQL COALESCE: a nil timestamp never clears a
	// stored one.
	existing.Status = incoming.Status
	if incoming.DeliveredAt != nil {
		existing.DeliveredAt = incoming.DeliveredAt
	}
	if incoming.ReadAt != nil {
		existing.ReadAt = incoming.ReadAt
	}
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id, session string) (*models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.messages[messageKey{session: session, id: id}]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) MarkOwnedMessage(ctx context.Context, session, id string) error {
	if session == "" || id == "" {
		return errInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := messageKey{session: session, id: id}
	if _, exists := s.owned[key]; !exists {
		s.owned[key] = s.now()
	}
	return nil
}

func (s *MemoryStore) IsOwnedMessage(ctx context.Context, session, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.owned[messageKey{session: session, id: id}]
	return ok, nil
}

func (s *MemoryStore) PurgeOwnedMarks(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var purged int64
	for key, markedAt := range s.owned {
		if markedAt.Before(cutoff) {
			delete(s.owned, key)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) SetWebhookURL(ctx context.Context, session, url string) error {
	if session == "" || url == "" {
		return errInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[session] = url
	return nil
}

func (s *MemoryStore) GetWebhookURL(ctx context.Context, session string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.webhooks[session]
	if !ok {
		return "", ErrNotFound
	}
	return url, nil
}

func (s *MemoryStore) Close() error { return nil }
