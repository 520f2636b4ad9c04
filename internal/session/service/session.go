package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campuskit/sessiond/internal/session/cache"
	"github.com/campuskit/sessiond/internal/session/domain"
	"github.com/campuskit/sessiond/internal/session/store"
	"github.com/campuskit/sessiond/pkg/cryptox"
	"github.com/campuskit/sessiond/pkg/idx"
	"github.com/campuskit/sessiond/pkg/slogx"
)

// SessionService orchestrates the durable store and the cache. It is
// stateless and safe to replicate: all shared state lives in its backends,
// and concurrent refreshes are serialized by the store's conditional update,
// not by in-process locks.
type SessionService struct {
	Store store.Store
	Cache cache.Cache

	// AccessTTL is the short window during which a cached snapshot is
	// trusted without a durable-store round trip. The cache entry's TTL is
	// this value, so "miss but durable-valid" is the normal state between
	// refreshes.
	AccessTTL time.Duration

	// RefreshTTL bounds the session's total lifetime (ExpiresAt).
	RefreshTTL time.Duration

	// StoreTimeout and CacheTimeout bound each backend round trip. Cache
	// timeouts degrade to misses; store timeouts fail the operation.
	StoreTimeout time.Duration
	CacheTimeout time.Duration

	// SlidingRefresh resets ExpiresAt to now+RefreshTTL on every successful
	// rotation. When false the original expiry stands.
	SlidingRefresh bool

	// TheftRevokeAll escalates the theft response from revoking the single
	// presented session to revoking every session the user owns.
	TheftRevokeAll bool

	// AllowDegradedReads lets ValidateSession fall back to the long-lived
	// shadow snapshot when the durable store is unreachable. Off by default:
	// a store outage then fails reads with ErrUnavailable.
	AllowDegradedReads bool

	// HashParams tunes the Argon2id cost for refresh-secret hashing.
	HashParams cryptox.HashParams
}

// Issued is what leaves the service when a session is created or refreshed.
// RefreshSecret is the only copy of the raw secret that ever exists server
// side; it is handed to the caller and forgotten.
type Issued struct {
	SessionID       string
	RefreshSecret   string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
}

// CreateSession mints a new session for a principal whose credentials were
// already verified upstream. The durable write must succeed; the cache write
// is best-effort.
func (s *SessionService) CreateSession(
	ctx context.Context,
	userID, userRole, clientIP, userAgent string,
) (Issued, error) {
	log := slogx.FromContext(ctx)
	now := time.Now().UTC()

	secret, err := cryptox.GenerateSecret(cryptox.SecretSize256)
	if err != nil {
		return Issued{}, err
	}
	hash, err := cryptox.HashSecret(secret, s.hashParams())
	if err != nil {
		return Issued{}, err
	}

	sess := domain.Session{
		ID:               idx.New().String(),
		UserID:           userID,
		UserRole:         userRole,
		RefreshTokenHash: hash,
		UserAgent:        userAgent,
		ClientIP:         clientIP,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.RefreshTTL),
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.Store.CreateSession(sctx, sess); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// ULIDs do not collide in practice; treat it as a race all the same.
			return Issued{}, ErrConflict
		}
		log.Error("session create failed", slog.Any("error", err))
		return Issued{}, ErrUnavailable
	}

	s.cacheSet(ctx, sess)

	log.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("user_id", sess.UserID),
		slog.String("user_role", sess.UserRole),
	)

	return Issued{
		SessionID:       sess.ID,
		RefreshSecret:   secret,
		AccessExpiresAt: now.Add(s.AccessTTL),
		ExpiresAt:       sess.ExpiresAt,
	}, nil
}

// ValidateSession is the read path behind every authenticated request on the
// platform. Cache hit: return immediately. Miss: consult the durable store
// and repopulate the cache on success, so flushed or evicted entries heal
// themselves.
func (s *SessionService) ValidateSession(ctx context.Context, id string) (domain.Session, error) {
	log := slogx.FromContext(ctx)
	now := time.Now().UTC()

	cctx, cancel := s.cacheCtx(ctx)
	snap, err := s.Cache.Get(cctx, id)
	cancel()
	switch {
	case err == nil:
		return s.checkUsable(snap, now)
	case !errors.Is(err, cache.ErrMiss):
		// Treated as a miss; the durable store is the backstop.
		log.Warn("session cache read failed", slog.Any("error", err))
	}

	sctx, cancel := s.storeCtx(ctx)
	sess, err := s.Store.GetSessionByID(sctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrNotFound
		}
		log.Error("session store read failed", slog.Any("error", err))
		if s.AllowDegradedReads {
			if stale, ok := s.staleRead(ctx, id, now); ok {
				log.Warn("serving degraded cache-only validation",
					slog.String("session_id", id))
				return stale, nil
			}
		}
		return domain.Session{}, ErrUnavailable
	}

	checked, err := s.checkUsable(sess, now)
	if err != nil {
		return domain.Session{}, err
	}

	s.cacheSet(ctx, sess)
	return checked, nil
}

// RefreshSession verifies the presented secret against the stored hash and
// rotates the secret on success. A mismatch is treated as a theft signal and
// revokes per policy rather than merely rejecting. A lost rotation race
// surfaces as ErrConflict.
func (s *SessionService) RefreshSession(ctx context.Context, id, presentedSecret string) (Issued, error) {
	log := slogx.FromContext(ctx)
	now := time.Now().UTC()

	sctx, cancel := s.storeCtx(ctx)
	sess, err := s.Store.GetSessionByID(sctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Issued{}, ErrNotFound
		}
		log.Error("session store read failed", slog.Any("error", err))
		return Issued{}, ErrUnavailable
	}

	if _, err := s.checkUsable(sess, now); err != nil {
		return Issued{}, err
	}

	if err := cryptox.VerifySecret(presentedSecret, sess.RefreshTokenHash); err != nil {
		if !errors.Is(err, cryptox.ErrHashMismatch) {
			log.Error("stored refresh hash unreadable", slog.Any("error", err),
				slog.String("session_id", sess.ID))
		}
		s.respondToTheft(ctx, sess)
		return Issued{}, ErrInvalidToken
	}

	secret, err := cryptox.GenerateSecret(cryptox.SecretSize256)
	if err != nil {
		return Issued{}, err
	}
	nextHash, err := cryptox.HashSecret(secret, s.hashParams())
	if err != nil {
		return Issued{}, err
	}

	expiresAt := sess.ExpiresAt
	if s.SlidingRefresh {
		expiresAt = now.Add(s.RefreshTTL)
	}

	sctx, cancel = s.storeCtx(ctx)
	updated, err := s.Store.RotateRefreshHash(sctx, sess.ID, sess.RefreshTokenHash, nextHash, expiresAt)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStaleHash):
			// A concurrent refresh rotated first; this caller's secret is
			// already stale.
			return Issued{}, ErrConflict
		case errors.Is(err, store.ErrNotFound):
			return Issued{}, ErrNotFound
		default:
			log.Error("session rotation failed", slog.Any("error", err))
			return Issued{}, ErrUnavailable
		}
	}

	s.cacheSet(ctx, updated)

	log.Info("session refreshed",
		slog.String("session_id", updated.ID),
		slog.Int64("rotation_counter", updated.RotationCounter),
	)

	return Issued{
		SessionID:       updated.ID,
		RefreshSecret:   secret,
		AccessExpiresAt: now.Add(s.AccessTTL),
		ExpiresAt:       updated.ExpiresAt,
	}, nil
}

// RevokeSession terminates one session. Idempotent: revoking an unknown or
// already-revoked id succeeds, matching logout semantics where the client
// retries on flaky networks.
func (s *SessionService) RevokeSession(ctx context.Context, id string) error {
	log := slogx.FromContext(ctx)
	now := time.Now().UTC()

	sctx, cancel := s.storeCtx(ctx)
	err := s.Store.RevokeSession(sctx, id, now)
	cancel()
	if err != nil {
		log.Error("session revoke failed", slog.Any("error", err))
		return ErrUnavailable
	}

	s.cacheDelete(ctx, id)

	log.Info("session revoked", slog.String("session_id", id))
	return nil
}

// RevokeAllUserSessions terminates every session the user owns ("log out
// everywhere"). Returns how many sessions were revoked.
func (s *SessionService) RevokeAllUserSessions(ctx context.Context, userID string) (int64, error) {
	log := slogx.FromContext(ctx)
	now := time.Now().UTC()

	// Enumerate from the store before revoking: the cache's own user index
	// misses any session whose index write failed, so the store list is the
	// authoritative target set for invalidation.
	sctx, cancel := s.storeCtx(ctx)
	ids, err := s.Store.ListUserSessionIDs(sctx, userID)
	cancel()
	if err != nil {
		log.Warn("listing user sessions for invalidation failed", slog.Any("error", err))
	}

	sctx, cancel = s.storeCtx(ctx)
	count, err := s.Store.RevokeAllUserSessions(sctx, userID, now)
	cancel()
	if err != nil {
		log.Error("bulk session revoke failed", slog.Any("error", err),
			slog.String("user_id", userID))
		return 0, ErrUnavailable
	}

	for _, id := range ids {
		s.cacheDelete(ctx, id)
	}
	cctx, cancel := s.cacheCtx(ctx)
	if err := s.Cache.DeleteAllForUser(cctx, userID); err != nil {
		log.Warn("bulk cache invalidation failed", slog.Any("error", err))
	}
	cancel()

	log.Info("all user sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("count", count),
	)
	return count, nil
}

// respondToTheft runs after a failed secret comparison. Default policy burns
// only the presented session; TheftRevokeAll burns every session the user
// owns. Failures here are logged, not returned — the caller already gets
// ErrInvalidToken either way.
func (s *SessionService) respondToTheft(ctx context.Context, sess domain.Session) {
	log := slogx.FromContext(ctx)
	now := time.Now().UTC()

	log.Warn("refresh secret mismatch, revoking",
		slog.String("session_id", sess.ID),
		slog.String("user_id", sess.UserID),
		slog.Int64("rotation_counter", sess.RotationCounter),
		slog.Bool("revoke_all", s.TheftRevokeAll),
	)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if s.TheftRevokeAll {
		if _, err := s.Store.RevokeAllUserSessions(sctx, sess.UserID, now); err != nil {
			log.Error("theft response bulk revoke failed", slog.Any("error", err))
		}
		cctx, ccancel := s.cacheCtx(ctx)
		if err := s.Cache.DeleteAllForUser(cctx, sess.UserID); err != nil {
			log.Warn("theft response cache invalidation failed", slog.Any("error", err))
		}
		ccancel()
		return
	}

	if err := s.Store.RevokeSession(sctx, sess.ID, now); err != nil {
		log.Error("theft response revoke failed", slog.Any("error", err))
	}
	s.cacheDelete(ctx, sess.ID)
}

// checkUsable maps a session's state to the error taxonomy. Cached snapshots
// pass through here too, so a cached entry still respects the absolute
// expiry and revocation flags, not just its TTL.
func (s *SessionService) checkUsable(sess domain.Session, now time.Time) (domain.Session, error) {
	if sess.Revoked {
		return domain.Session{}, ErrRevoked
	}
	if sess.Expired(now) {
		return domain.Session{}, ErrExpired
	}
	return sess, nil
}

func (s *SessionService) staleRead(ctx context.Context, id string, now time.Time) (domain.Session, bool) {
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()

	stale, err := s.Cache.GetStale(cctx, id)
	if err != nil {
		return domain.Session{}, false
	}
	if _, err := s.checkUsable(stale, now); err != nil {
		return domain.Session{}, false
	}
	return stale, true
}

// cacheSet is the best-effort snapshot write. TTL is the access window; the
// shadow copy lives for the session's remaining refresh lifetime.
func (s *SessionService) cacheSet(ctx context.Context, sess domain.Session) {
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()

	staleTTL := time.Until(sess.ExpiresAt)
	if err := s.Cache.Set(cctx, sess, s.AccessTTL, staleTTL); err != nil {
		slogx.FromContext(ctx).Warn("session cache write failed", slog.Any("error", err))
	}
}

func (s *SessionService) cacheDelete(ctx context.Context, id string) {
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()

	if err := s.Cache.Delete(cctx, id); err != nil {
		slogx.FromContext(ctx).Warn("session cache delete failed", slog.Any("error", err))
	}
}

func (s *SessionService) hashParams() cryptox.HashParams {
	if s.HashParams == (cryptox.HashParams{}) {
		return cryptox.DefaultHashParams
	}
	return s.HashParams
}

func (s *SessionService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}

func (s *SessionService) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.CacheTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.CacheTimeout)
}
