package authcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypts/authcore"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, tokens := env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	require.NoError(t, env.engine.RequestPasswordReset(ctx, "alice@example.com"))
	code := env.notifier.lastCode("alice@example.com")
	require.NotEmpty(t, code)

	require.NoError(t, env.engine.ResetPassword(ctx, "alice@example.com", code, "brand-new-password"))

	// Old password dead, new one live.
	_, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery", "")
	assert.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	result, err := env.engine.Login(ctx, "alice@example.com", "brand-new-password", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.UserID)

	// Every pre-reset session was revoked.
	_, err = env.engine.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, authcore.ErrSessionNotFound)
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.NoError(t, env.engine.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, env.notifier.lastCode("nobody@example.com"))
}

func TestResetCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	require.NoError(t, env.engine.RequestPasswordReset(ctx, "alice@example.com"))
	code := env.notifier.lastCode("alice@example.com")

	require.NoError(t, env.engine.ResetPassword(ctx, "alice@example.com", code, "brand-new-password"))
	err := env.engine.ResetPassword(ctx, "alice@example.com", code, "another-password!")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestResetCodeAttemptsExhaust(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	require.NoError(t, env.engine.RequestPasswordReset(ctx, "alice@example.com"))
	code := env.notifier.lastCode("alice@example.com")
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	// MaxAttempts is 3 in the test config.
	err := env.engine.ResetPassword(ctx, "alice@example.com", wrong, "brand-new-password")
	assert.ErrorIs(t, err, authcore.ErrCodeMismatch)
	err = env.engine.ResetPassword(ctx, "alice@example.com", wrong, "brand-new-password")
	assert.ErrorIs(t, err, authcore.ErrCodeMismatch)
	err = env.engine.ResetPassword(ctx, "alice@example.com", wrong, "brand-new-password")
	assert.ErrorIs(t, err, authcore.ErrAttemptsExhausted)

	// Exhaustion burned the record; even the right code is gone.
	err = env.engine.ResetPassword(ctx, "alice@example.com", code, "brand-new-password")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestResetCodeExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	require.NoError(t, env.engine.RequestPasswordReset(ctx, "alice@example.com"))
	code := env.notifier.lastCode("alice@example.com")

	env.advance(11 * time.Minute)
	err := env.engine.ResetPassword(ctx, "alice@example.com", code, "brand-new-password")
	assert.ErrorIs(t, err, authcore.ErrOTPExpired)
}

func TestNewRequestSupersedesPendingCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	require.NoError(t, env.engine.RequestPasswordReset(ctx, "alice@example.com"))
	first := env.notifier.lastCode("alice@example.com")
	require.NoError(t, env.engine.RequestPasswordReset(ctx, "alice@example.com"))
	second := env.notifier.lastCode("alice@example.com")

	if first != second {
		err := env.engine.ResetPassword(ctx, "alice@example.com", first, "brand-new-password")
		assert.ErrorIs(t, err, authcore.ErrCodeMismatch)
	}
	assert.NoError(t, env.engine.ResetPassword(ctx, "alice@example.com", second, "brand-new-password"))
}

func TestChannelFailureRollsBackCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	env.notifier.setFail(true)
	err := env.engine.RequestPasswordReset(ctx, "alice@example.com")
	assert.ErrorIs(t, err, authcore.ErrChannelUnavailable)

	// No half-issued code is left verifiable.
	env.notifier.setFail(false)
	err = env.engine.ResetPassword(ctx, "alice@example.com", "123456", "brand-new-password")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice@example.com", "alice", "correct-horse-battery")
	require.False(t, user.EmailVerified)

	require.NoError(t, env.engine.RequestEmailVerification(ctx, "alice@example.com"))
	code := env.notifier.lastCode("alice@example.com")
	require.NoError(t, env.engine.ConfirmEmailVerification(ctx, "alice@example.com", code))

	updated, err := env.users.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, updated.EmailVerified)
}

func TestOTPLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	require.NoError(t, env.engine.RequestLoginOTP(ctx, "alice@example.com"))
	code := env.notifier.lastCode("alice@example.com")

	result, err := env.engine.CompleteOTPLogin(ctx, "alice@example.com", code, "tablet")
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.UserID)
	require.NotNil(t, result.Tokens)

	// Redeeming the code proved mailbox control.
	updated, err := env.users.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, updated.EmailVerified)

	// The code is gone.
	_, err = env.engine.CompleteOTPLogin(ctx, "alice@example.com", code, "tablet")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestEmailChangeFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, _ := env.register(t, "alice@example.com", "alice", "correct-horse-battery")
	env.register(t, "taken@example.com", "bob", "correct-horse-battery")

	err := env.engine.RequestEmailChange(ctx, user.ID, "taken@example.com")
	assert.ErrorIs(t, err, authcore.ErrEmailTaken)

	require.NoError(t, env.engine.RequestEmailChange(ctx, user.ID, "new@example.com"))
	code := env.notifier.lastCode("new@example.com")
	require.NotEmpty(t, code)

	require.NoError(t, env.engine.ConfirmEmailChange(ctx, user.ID, "new@example.com", code))

	moved, err := env.users.UserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, moved.ID)
	assert.True(t, moved.EmailVerified)

	_, err = env.users.UserByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestAvailabilityChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "alice", "correct-horse-battery")

	ok, err := env.engine.EmailAvailable(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.engine.EmailAvailable(ctx, "free@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.engine.UsernameAvailable(ctx, "ALICE")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.engine.UsernameAvailable(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPhoneFlowsReportUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.engine.RequestPhoneVerification(ctx, "ghost", authcore.ChannelSMS)
	assert.ErrorIs(t, err, authcore.ErrNotFound)

	err = env.engine.ConfirmPhoneVerification(ctx, "ghost", "123456")
	assert.ErrorIs(t, err, authcore.ErrNotFound)

	err = env.engine.RequestPhoneChange(ctx, "ghost", "+15550001111", authcore.ChannelSMS)
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}
