package domain

import "time"

// Session is the durable record binding a principal to a lifetime-bounded,
// revocable authentication grant. One row exists per session id for the
// session's entire lifetime; revocation is a soft terminal marker, never a
// delete, so the audit trail survives the session.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// UserRole is a snapshot of the principal's role taken at creation and
	// refresh time, carried so validation never round-trips to the
	// permissions service.
	UserRole string `json:"user_role"`

	// RefreshTokenHash is the Argon2id PHC hash of the current rotating
	// secret. It is never serialized outward, including into the cache.
	RefreshTokenHash string `json:"-"`

	// UserAgent and ClientIP are captured at creation for auditing and
	// display only; they carry no security weight.
	UserAgent string `json:"user_agent"`
	ClientIP  string `json:"client_ip"`

	// RotationCounter increments on every successful refresh. It exists for
	// auditability and anomaly detection, not correctness.
	RotationCounter int64 `json:"rotation_counter"`

	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ExpiresAt bounds the refresh lifetime, not the short access window.
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable reports whether the session can still back a refresh at time now.
func (s Session) Usable(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// Expired reports whether the refresh lifetime has elapsed.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
