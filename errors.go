package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for any failed primary
	// authentication. It is deliberately identical whether the account
	// exists or not.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired is returned when a token's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned for tokens that do not parse or carry
	// the wrong type claim.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrSignatureInvalid is returned when a token fails signature
	// verification.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrSessionCompromised is returned when a retired refresh token is
	// presented for a live session. The session is revoked before the
	// error is returned.
	ErrSessionCompromised = errors.New("session compromised: refresh token reuse detected")
	// ErrSessionNotFound is returned when the session referenced by a
	// token no longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotFound is returned when no live record matches the request.
	ErrNotFound = errors.New("not found")
	// ErrCodeMismatch is returned when a submitted one-time code does not
	// match while attempts remain.
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrOTPExpired is returned when a one-time code exists but its expiry
	// window has passed.
	ErrOTPExpired = errors.New("one-time code expired")
	// ErrAttemptsExhausted is returned on the attempt that consumes the
	// last remaining guess for a one-time code.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrChannelUnavailable is returned verbatim when the Notifier cannot
	// accept a dispatch. The engine takes no corrective action.
	ErrChannelUnavailable = errors.New("notification channel unavailable")
	// ErrIdentityConflict is returned when an OAuth email maps to a user
	// already linked to a different subject for the same provider.
	ErrIdentityConflict = errors.New("external identity conflict")
	// ErrNotEnabled is returned when a two-factor operation targets a user
	// without two-factor enabled.
	ErrNotEnabled = errors.New("two-factor not enabled")
	// ErrAlreadyEnabled is returned when enrolling two-factor on an account
	// that already has it enabled.
	ErrAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrInvalidCode is returned when a two-factor or recovery code fails
	// validation.
	ErrInvalidCode = errors.New("invalid two-factor code")
	// ErrNoPendingEnrollment is returned when confirming two-factor
	// enrollment without a prior Enroll call.
	ErrNoPendingEnrollment = errors.New("no pending two-factor enrollment")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrPhoneTaken is returned when the phone number is already registered.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrIDGenerationFailed is returned when bounded-retry unique
	// identifier generation runs out of attempts.
	ErrIDGenerationFailed = errors.New("unique identifier generation failed")
	// ErrStoreUnavailable wraps backend failures from the credential,
	// session, or code stores.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrEngineNotReady is returned when a nil or unbuilt engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
)
