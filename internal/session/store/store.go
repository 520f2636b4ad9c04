package store

import (
	"context"
	"errors"
	"time"

	"github.com/campuskit/sessiond/internal/session/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStaleHash is returned by RotateRefreshHash when the stored hash no
	// longer matches the hash the caller read. A concurrent refresh won the
	// race; the caller must treat its own attempt as invalid.
	ErrStaleHash = errors.New("store: refresh hash changed concurrently")
)

// Store is the durable session record. It is the source of truth: the cache
// may lag it, never the other way around. Concrete drivers (sqlite today)
// implement this and must be safe for concurrent use from multiple
// orchestrator replicas.
type Store interface {
	// CreateSession inserts a new record. Fails with ErrAlreadyExists if the
	// id is taken — generation makes that practically impossible, but the
	// constraint is still enforced.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByID returns the record or ErrNotFound.
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// RotateRefreshHash is the conditional update backing token rotation:
	// it replaces the hash, bumps the rotation counter, and sets the new
	// expiry in one statement guarded by the hash the caller read
	// (compare-and-swap). ErrStaleHash when a concurrent rotation got there
	// first, ErrNotFound when the row is gone or already revoked.
	RotateRefreshHash(
		ctx context.Context,
		id string,
		currentHash, nextHash string,
		expiresAt time.Time,
	) (domain.Session, error)

	// RevokeSession soft-revokes a session. Idempotent: revoking an
	// already-revoked or unknown id is not an error.
	RevokeSession(ctx context.Context, id string, at time.Time) error

	// RevokeAllUserSessions bulk-marks every non-revoked session owned by
	// the user and returns how many rows it touched. Used for "log out
	// everywhere" and for theft response.
	RevokeAllUserSessions(ctx context.Context, userID string, at time.Time) (int64, error)

	// ListUserSessionIDs returns ids of non-revoked sessions for a user.
	// The orchestrator uses it to target cache invalidation on bulk revoke.
	ListUserSessionIDs(ctx context.Context, userID string) ([]string, error)

	// PurgeTerminalBefore deletes rows that reached a terminal state
	// (expired or revoked) before the cutoff. Housekeeping only; live
	// sessions are never deleted.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ApplyMigrations brings the schema up to date.
	ApplyMigrations() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}
