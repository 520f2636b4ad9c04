package cache

import (
	"context"
	"errors"
	"time"

	"github.com/campuskit/sessiond/internal/session/domain"
)

var (
	// ErrMiss reports that no snapshot exists for the id. A miss is the
	// routine steady state between refreshes, not a failure.
	ErrMiss = errors.New("cache: miss")

	// ErrUnavailable wraps transport failures talking to the cache backend.
	ErrUnavailable = errors.New("cache: unavailable")
)

// Cache is the fast, volatile session snapshot store. Everything here is
// best-effort: the durable store remains the source of truth and every
// operation may fail without affecting correctness.
type Cache interface {
	// Set stores a snapshot under the session id with the short access-window
	// ttl, plus a shadow copy with staleTTL (the remaining refresh lifetime)
	// used only for degraded reads when the durable store is unreachable.
	// It also indexes the session id under its user for bulk invalidation.
	Set(ctx context.Context, sess domain.Session, ttl, staleTTL time.Duration) error

	// Get returns the snapshot or ErrMiss.
	Get(ctx context.Context, id string) (domain.Session, error)

	// GetStale returns the long-lived shadow snapshot or ErrMiss. Callers
	// must re-check revocation state against the durable store once it is
	// reachable again; the shadow copy can lag.
	GetStale(ctx context.Context, id string) (domain.Session, error)

	// Delete removes both snapshot and shadow for the id.
	Delete(ctx context.Context, id string) error

	// DeleteAllForUser removes every indexed snapshot belonging to the user.
	DeleteAllForUser(ctx context.Context, userID string) error

	// Ping checks backend availability.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}
