package sitepilot

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Store persists suspended turn snapshots keyed by session id. A snapshot
// is opaque to the store; the engine owns its format.
type Store interface {
	Save(ctx context.Context, sessionID string, snapshot []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process Store. Snapshots do not survive a restart;
// use a durable Store in production.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[string][]byte{}}
}

func (s *MemoryStore) Save(ctx context.Context, sessionID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = append([]byte{}, snapshot...)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[sessionID]
	if !ok {
		return nil, goerr.Wrap(ErrSessionNotFound, "no snapshot for session",
			goerr.V("session_id", sessionID))
	}
	return append([]byte{}, snapshot...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}
