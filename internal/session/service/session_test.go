package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/campuskit/sessiond/internal/session/cache"
	"github.com/campuskit/sessiond/internal/session/domain"
	"github.com/campuskit/sessiond/internal/session/store/drivers/sqlite"
	"github.com/campuskit/sessiond/pkg/cryptox"
	"github.com/campuskit/sessiond/pkg/idx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// testHashParams keeps Argon2id cheap for tests.
var testHashParams = cryptox.HashParams{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type fixture struct {
	svc   *SessionService
	store *sqlite.Store
	cache *cache.RedisCache
	redis *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := cache.NewRedisCache(rdb, "test")

	svc := &SessionService{
		Store:          st,
		Cache:          rc,
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     30 * 24 * time.Hour,
		StoreTimeout:   2 * time.Second,
		CacheTimeout:   time.Second,
		SlidingRefresh: true,
		HashParams:     testHashParams,
	}

	return &fixture{svc: svc, store: st, cache: rc, redis: mr}
}

func TestCreateThenValidateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "192.0.2.1", "moodle-app/3.2")
	require.NoError(t, err)
	require.NotEmpty(t, issued.SessionID)
	require.NotEmpty(t, issued.RefreshSecret)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), issued.AccessExpiresAt, 5*time.Second)
	require.WithinDuration(t, time.Now().Add(30*24*time.Hour), issued.ExpiresAt, 5*time.Second)

	sess, err := f.svc.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.UserID)
	require.Equal(t, "student", sess.UserRole)
	require.Equal(t, "192.0.2.1", sess.ClientIP)
	require.Equal(t, "moodle-app/3.2", sess.UserAgent)

	// The snapshot landed in the cache and never carries the hash.
	cached, err := f.cache.Get(ctx, issued.SessionID)
	require.NoError(t, err)
	require.Empty(t, cached.RefreshTokenHash)
}

func TestValidateUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ValidateSession(context.Background(), idx.New().String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheMissSelfHeals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	// Blow away the cache entry; validation must fall back and repopulate.
	require.NoError(t, f.cache.Delete(ctx, issued.SessionID))
	_, err = f.cache.Get(ctx, issued.SessionID)
	require.ErrorIs(t, err, cache.ErrMiss)

	sess, err := f.svc.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.UserID)

	cached, err := f.cache.Get(ctx, issued.SessionID)
	require.NoError(t, err)
	require.Equal(t, issued.SessionID, cached.ID)
}

func TestValidateSurvivesCacheOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	f.redis.Close()

	sess, err := f.svc.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.UserID)

	// Creation also tolerates a dead cache.
	_, err = f.svc.CreateSession(ctx, "user-2", "tutor", "", "")
	require.NoError(t, err)
}

func TestRefreshRotatesSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	refreshed, err := f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
	require.NoError(t, err)
	require.Equal(t, issued.SessionID, refreshed.SessionID)
	require.NotEqual(t, issued.RefreshSecret, refreshed.RefreshSecret)

	sess, err := f.store.GetSessionByID(ctx, issued.SessionID)
	require.NoError(t, err)
	require.EqualValues(t, 1, sess.RotationCounter)

	// The new secret keeps working.
	_, err = f.svc.RefreshSession(ctx, refreshed.SessionID, refreshed.RefreshSecret)
	require.NoError(t, err)
}

func TestRefreshWithOldSecretRevokesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	_, err = f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
	require.NoError(t, err)

	// Replaying the rotated-out secret is a theft signal.
	_, err = f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.ValidateSession(ctx, issued.SessionID)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestTheftPolicyRevokesAllUserSessions(t *testing.T) {
	f := newFixture(t)
	f.svc.TheftRevokeAll = true
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)
	second, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)
	other, err := f.svc.CreateSession(ctx, "user-2", "tutor", "", "")
	require.NoError(t, err)

	_, err = f.svc.RefreshSession(ctx, first.SessionID, "wrong-secret")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.ValidateSession(ctx, first.SessionID)
	require.ErrorIs(t, err, ErrRevoked)
	_, err = f.svc.ValidateSession(ctx, second.SessionID)
	require.ErrorIs(t, err, ErrRevoked)

	// The other user is untouched.
	_, err = f.svc.ValidateSession(ctx, other.SessionID)
	require.NoError(t, err)
}

func TestRevokeSessionTerminalAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeSession(ctx, issued.SessionID))
	require.NoError(t, f.svc.RevokeSession(ctx, issued.SessionID))

	_, err = f.svc.ValidateSession(ctx, issued.SessionID)
	require.ErrorIs(t, err, ErrRevoked)
	_, err = f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
	require.ErrorIs(t, err, ErrRevoked)

	// Unknown ids revoke cleanly too.
	require.NoError(t, f.svc.RevokeSession(ctx, idx.New().String()))
}

func TestRevokeAllUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mine []Issued
	for range 3 {
		issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
		require.NoError(t, err)
		mine = append(mine, issued)
	}
	other, err := f.svc.CreateSession(ctx, "user-2", "tutor", "", "")
	require.NoError(t, err)

	count, err := f.svc.RevokeAllUserSessions(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	for _, issued := range mine {
		_, err = f.svc.ValidateSession(ctx, issued.SessionID)
		require.ErrorIs(t, err, ErrRevoked)
		_, err = f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
		require.ErrorIs(t, err, ErrRevoked)
	}

	_, err = f.svc.ValidateSession(ctx, other.SessionID)
	require.NoError(t, err)
}

func TestExpiredSessionFailsEvenWhenCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Insert an already-expired record and force it into the cache, the way
	// a clock rollover would leave a still-live cache entry behind.
	now := time.Now().UTC()
	sess := domain.Session{
		ID:               idx.New().String(),
		UserID:           "user-1",
		UserRole:         "student",
		RefreshTokenHash: "unused",
		CreatedAt:        now.Add(-48 * time.Hour),
		UpdatedAt:        now.Add(-48 * time.Hour),
		ExpiresAt:        now.Add(-time.Hour),
	}
	require.NoError(t, f.store.CreateSession(ctx, sess))
	require.NoError(t, f.cache.Set(ctx, sess, 15*time.Minute, 15*time.Minute))

	_, err := f.svc.ValidateSession(ctx, sess.ID)
	require.ErrorIs(t, err, ErrExpired)

	_, err = f.svc.RefreshSession(ctx, sess.ID, "anything")
	require.ErrorIs(t, err, ErrExpired)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
		}()
	}
	wg.Wait()

	var successes, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidToken):
			rejected++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	require.Equal(t, 1, successes, "exactly one refresh may win")
	require.Equal(t, 1, rejected)
}

func TestDegradedReadsPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled hard-fails when store is down", func(t *testing.T) {
		f := newFixture(t)
		issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
		require.NoError(t, err)

		// Access window elapses, then the store goes away.
		f.redis.FastForward(16 * time.Minute)
		require.NoError(t, f.store.Close())

		_, err = f.svc.ValidateSession(ctx, issued.SessionID)
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("enabled serves the shadow snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.svc.AllowDegradedReads = true
		issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
		require.NoError(t, err)

		f.redis.FastForward(16 * time.Minute)
		require.NoError(t, f.store.Close())

		sess, err := f.svc.ValidateSession(ctx, issued.SessionID)
		require.NoError(t, err)
		require.Equal(t, "user-1", sess.UserID)
	})

	t.Run("writes still fail when store is down", func(t *testing.T) {
		f := newFixture(t)
		f.svc.AllowDegradedReads = true
		issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
		require.NoError(t, err)
		require.NoError(t, f.store.Close())

		_, err = f.svc.CreateSession(ctx, "user-2", "tutor", "", "")
		require.ErrorIs(t, err, ErrUnavailable)
		_, err = f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
		require.ErrorIs(t, err, ErrUnavailable)
		require.ErrorIs(t, f.svc.RevokeSession(ctx, issued.SessionID), ErrUnavailable)
	})
}

func TestNonSlidingRefreshKeepsExpiry(t *testing.T) {
	f := newFixture(t)
	f.svc.SlidingRefresh = false
	ctx := context.Background()

	issued, err := f.svc.CreateSession(ctx, "user-1", "student", "", "")
	require.NoError(t, err)

	refreshed, err := f.svc.RefreshSession(ctx, issued.SessionID, issued.RefreshSecret)
	require.NoError(t, err)
	require.WithinDuration(t, issued.ExpiresAt, refreshed.ExpiresAt, time.Second)
}
