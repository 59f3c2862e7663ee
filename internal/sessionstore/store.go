// Package sessionstore persists Fish Tank session snapshots.
//
// Two implementations satisfy [Store]: [Memory], an in-process map with TTL
// eviction, and [Postgres], a JSONB table for deployments that must survive
// restarts. Both evict sessions that have not been written for longer than
// their TTL.
//
// Stores hand out copies. Mutating a session returned by Get has no effect
// until it is passed to Put.
package sessionstore

import (
	"context"
	"errors"

	"github.com/MrWong99/fishtank/internal/session"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store is a keyed snapshot store for sessions. Implementations are safe for
// concurrent use. Serialising read-modify-write cycles for one session is
// the caller's job.
type Store interface {
	// Get returns a copy of the session with id, or [ErrNotFound].
	Get(ctx context.Context, id string) (*session.Session, error)

	// Put stores a copy of s under s.ID, replacing any previous snapshot and
	// resetting its idle timer.
	Put(ctx context.Context, s *session.Session) error

	// Delete removes the session with id, or returns [ErrNotFound].
	Delete(ctx context.Context, id string) error

	// Len returns the number of live sessions.
	Len(ctx context.Context) (int, error)

	// Close stops background eviction and releases resources.
	Close() error
}

// CountFunc is told how the number of live sessions changed: +1 when Put
// stores an id the store does not hold, negative when a Delete, a sweep or an
// expired Get removes sessions. Summing every delta gives the live count, even
// when a session that was evicted mid-turn is written back.
type CountFunc func(delta int)
