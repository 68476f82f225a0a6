package session

import "time"

// Revocation reasons recorded on the session tombstone.
const (
	ReasonUserLogout    = "user_logout"
	ReasonUserLogoutAll = "user_logout_all"
	ReasonReuseDetected = "reuse_detected"
	ReasonExpired       = "expired"
	ReasonPasswordReset = "password_reset"
)

// Session is one device's refresh-token lineage.
type Session struct {
	ID     string
	UserID string
	Role   string

	// RefreshHash is the hex SHA-256 of the current refresh token.
	RefreshHash  string
	TokenVersion uint32

	Fingerprint string

	CreatedAt int64
	RotatedAt int64
	ExpiresAt int64

	Revoked      bool
	RevokeReason string
}

// Summary is the caller-visible view for the active-sessions listing.
type Summary struct {
	ID          string
	Fingerprint string
	CreatedAt   time.Time
	RotatedAt   time.Time
}
