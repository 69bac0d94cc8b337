package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/flow-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the session's cached
// list; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	window  int // records cached per session
}

// NewCachedStore creates a cached wrapper around a primary store. The cache
// holds the newest window records of each session.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, window int) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		window:  normalizeLimit(window),
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertResult(ctx context.Context, rec *model.ResultRecord) error {
	if err := s.primary.InsertResult(ctx, rec); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, resultsKey(rec.SessionID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListResults(ctx context.Context, sessionID string, limit int) ([]model.ResultRecord, error) {
	limit = normalizeLimit(limit)
	if limit > s.window {
		return s.primary.ListResults(ctx, sessionID, limit)
	}

	data, err := s.rdb.Get(ctx, resultsKey(sessionID)).Bytes()
	if err == nil {
		var recs []model.ResultRecord
		if json.Unmarshal(data, &recs) == nil {
			return head(recs, limit), nil
		}
	}

	// Cache miss.
	recs, err := s.primary.ListResults(ctx, sessionID, s.window)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(recs); err == nil {
		s.rdb.Set(ctx, resultsKey(sessionID), data, s.ttl)
	}
	return head(recs, limit), nil
}

func head(recs []model.ResultRecord, n int) []model.ResultRecord {
	if len(recs) > n {
		return recs[:n]
	}
	return recs
}

func resultsKey(sessionID string) string { return fmt.Sprintf("results:%s", sessionID) }
