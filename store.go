package authcore

import (
	"context"
	"time"
)

// UserRecord is the full account record returned by [CredentialStore].
// PasswordHash is empty for OAuth-only accounts.
type UserRecord struct {
	ID            string
	Email         string
	Username      string
	Phone         string
	PasswordHash  string
	Role          Role
	EmailVerified bool
	PhoneVerified bool
	CreatedAt     time.Time
}

// LinkedIdentity records one external provider binding. A user holds at most
// one identity per provider, and a (provider, subject) pair maps to at most
// one user.
type LinkedIdentity struct {
	Provider  string
	SubjectID string
}

// TwoFactorRecord carries the encrypted shared secret for a user. A record
// with Enabled=false is a pending enrollment awaiting confirmation.
// LastUsedStep is the highest accepted TOTP time step, kept to reject
// replayed codes.
type TwoFactorRecord struct {
	SecretEnc    []byte
	Enabled      bool
	LastUsedStep int64
}

// CreateUserInput is the input for [CredentialStore.CreateUser].
type CreateUserInput struct {
	Email         string
	Username      string
	Phone         string
	PasswordHash  string
	Role          Role
	EmailVerified bool
	Identity      *LinkedIdentity
}

// CredentialStore is the durable record of users, their password hashes,
// linked external identities, and two-factor material. The engine owns flow
// logic; implementations own persistence and uniqueness enforcement.
//
// Uniqueness contract: email is unique case-insensitively, username and
// phone are unique when non-empty, and (provider, subject) is unique across
// all linked identities. Violations surface as [ErrEmailTaken],
// [ErrUsernameTaken], [ErrPhoneTaken], or [ErrIdentityConflict]. Lookups
// that find nothing return [ErrNotFound].
//
// UpdateEmail and UpdatePhone mark the new identifier verified: the engine
// only calls them after a delivered code proved control of it.
type CredentialStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UserByID(ctx context.Context, id string) (UserRecord, error)
	UserByEmail(ctx context.Context, email string) (UserRecord, error)
	UserByUsername(ctx context.Context, username string) (UserRecord, error)
	UserByIdentity(ctx context.Context, provider, subjectID string) (UserRecord, error)

	LinkedIdentities(ctx context.Context, userID string) ([]LinkedIdentity, error)
	LinkIdentity(ctx context.Context, userID string, identity LinkedIdentity) error

	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	UpdateEmail(ctx context.Context, userID, email string) error
	UpdatePhone(ctx context.Context, userID, phone string) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetPhoneVerified(ctx context.Context, userID string, verified bool) error

	TwoFactor(ctx context.Context, userID string) (*TwoFactorRecord, error)
	SaveTwoFactor(ctx context.Context, userID string, record TwoFactorRecord) error
	DeleteTwoFactor(ctx context.Context, userID string) error
	UpdateTwoFactorLastUsedStep(ctx context.Context, userID string, step int64) error

	ReplaceRecoveryCodes(ctx context.Context, userID string, hashes [][32]byte) error
	ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}
