// Package store defines the persistence interface for result history.
// Implementations include PostgreSQL (durable), Redis (read-through cache)
// and in-memory (bounded buffer, the default).
//
// History is opt-in bookkeeping for callers; session state such as the pit
// is never restored from it.
package store

import (
	"context"
	"errors"

	"github.com/atmx/flow-engine/internal/model"
)

// DefaultListLimit is used when a caller asks for a non-positive limit.
const DefaultListLimit = 50

// ErrSessionNotFound is returned when a session has no recorded results.
var ErrSessionNotFound = errors.New("store: session not found")

// Store is the result history interface.
type Store interface {
	// InsertResult appends an immutable result record.
	InsertResult(ctx context.Context, rec *model.ResultRecord) error

	// ListResults returns up to limit records for a session, newest first.
	ListResults(ctx context.Context, sessionID string, limit int) ([]model.ResultRecord, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
