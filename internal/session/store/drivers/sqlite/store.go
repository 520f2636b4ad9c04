package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/campuskit/sessiond/internal/session/domain"
	"github.com/campuskit/sessiond/internal/session/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY churn between concurrent rotations.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const insertSessionSQL = `
INSERT INTO sessions (
    id, user_id, user_role, refresh_token_hash, user_agent, client_ip,
    rotation_counter, revoked, revoked_at, created_at, updated_at, expires_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.ExecContext(ctx, insertSessionSQL,
		sess.ID,
		sess.UserID,
		sess.UserRole,
		sess.RefreshTokenHash,
		sess.UserAgent,
		sess.ClientIP,
		sess.RotationCounter,
		sess.Revoked,
		mapOptionalTime(sess.RevokedAt),
		sess.CreatedAt,
		sess.UpdatedAt,
		sess.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return nil
}

const selectSessionSQL = `
SELECT id, user_id, user_role, refresh_token_hash, user_agent, client_ip,
       rotation_counter, revoked, revoked_at, created_at, updated_at, expires_at
FROM sessions WHERE id = ?`

func (s *Store) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, selectSessionSQL, id))
}

const rotateSessionSQL = `
UPDATE sessions
SET refresh_token_hash = ?,
    rotation_counter   = rotation_counter + 1,
    expires_at         = ?,
    updated_at         = ?
WHERE id = ? AND refresh_token_hash = ? AND revoked = 0`

// RotateRefreshHash performs the compare-and-swap that serializes concurrent
// refreshes: the update only lands if the stored hash is still the one the
// caller read. The loser of a race sees zero rows and gets ErrStaleHash.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	id string,
	currentHash, nextHash string,
	expiresAt time.Time,
) (domain.Session, error) {
	res, err := s.db.ExecContext(ctx, rotateSessionSQL,
		nextHash, expiresAt, time.Now().UTC(), id, currentHash)
	if err != nil {
		return domain.Session{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Session{}, err
	}

	if affected == 0 {
		// Distinguish a lost race from a vanished or revoked row.
		existing, getErr := s.GetSessionByID(ctx, id)
		if getErr != nil {
			return domain.Session{}, getErr
		}
		if existing.Revoked {
			return domain.Session{}, store.ErrNotFound
		}
		return domain.Session{}, store.ErrStaleHash
	}

	return s.GetSessionByID(ctx, id)
}

const revokeSessionSQL = `
UPDATE sessions SET revoked = 1, revoked_at = ?, updated_at = ?
WHERE id = ? AND revoked = 0`

func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	// Zero rows means already revoked or unknown; both are fine.
	_, err := s.db.ExecContext(ctx, revokeSessionSQL, at, at, id)
	return err
}

const revokeAllUserSessionsSQL = `
UPDATE sessions SET revoked = 1, revoked_at = ?, updated_at = ?
WHERE user_id = ? AND revoked = 0`

func (s *Store) RevokeAllUserSessions(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, revokeAllUserSessionsSQL, at, at, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listUserSessionIDsSQL = `
SELECT id FROM sessions WHERE user_id = ? AND revoked = 0`

func (s *Store) ListUserSessionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listUserSessionIDsSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const purgeTerminalSQL = `
DELETE FROM sessions
WHERE (revoked = 1 AND revoked_at < ?) OR expires_at < ?`

func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeTerminalSQL, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		sess      domain.Session
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.UserRole,
		&sess.RefreshTokenHash,
		&sess.UserAgent,
		&sess.ClientIP,
		&sess.RotationCounter,
		&sess.Revoked,
		&revokedAt,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, store.ErrNotFound
		}
		return domain.Session{}, err
	}

	if revokedAt.Valid {
		at := revokedAt.Time
		sess.RevokedAt = &at
	}
	return sess, nil
}

func mapOptionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
