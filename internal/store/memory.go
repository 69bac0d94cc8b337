package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/flow-engine/internal/model"
)

// MemoryStore implements Store with a bounded in-memory buffer per session.
// Used for testing and development. Not suitable for production (no
// persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	sessions map[string][]model.ResultRecord
}

// NewMemoryStore creates an in-memory store keeping at most perSession
// records for each session; older records are dropped first.
func NewMemoryStore(perSession int) *MemoryStore {
	if perSession <= 0 {
		perSession = DefaultListLimit
	}
	return &MemoryStore{
		capacity: perSession,
		sessions: make(map[string][]model.ResultRecord),
	}
}

func (s *MemoryStore) InsertResult(_ context.Context, rec *model.ResultRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("store: result %s has no session", rec.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := append(s.sessions[rec.SessionID], *rec)
	if over := len(recs) - s.capacity; over > 0 {
		// Copy so the dropped prefix can be collected.
		recs = append([]model.ResultRecord(nil), recs[over:]...)
	}
	s.sessions[rec.SessionID] = recs
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, sessionID string, limit int) ([]model.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	limit = normalizeLimit(limit)
	out := make([]model.ResultRecord, 0, min(limit, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}
