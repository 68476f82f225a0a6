package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/mypts/authcore/otp"
	"github.com/mypts/authcore/session"
)

// requestCode issues a one-time code for (purpose, target) and hands it to
// the notifier. A live code for the same pair is superseded. If delivery
// fails the stored record is rolled back so no unverifiable code lingers.
func (e *Engine) requestCode(ctx context.Context, purpose Purpose, channel Channel, target string) error {
	if !purpose.Valid() {
		return fmt.Errorf("authcore: unknown purpose %q", purpose)
	}
	if !channel.Valid() {
		return fmt.Errorf("authcore: unknown channel %q", channel)
	}
	if e.notifier == nil {
		return ErrChannelUnavailable
	}

	code, err := generateNumericCode(e.cfg.OTP.Digits)
	if err != nil {
		return err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	now := e.now()
	rec := &otp.Record{
		Target:    target,
		Purpose:   string(purpose),
		CodeHash:  otp.HashCode(salt, code),
		Salt:      salt,
		Channel:   string(channel),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.cfg.OTP.TTL).Unix(),
		Remaining: e.cfg.OTP.MaxAttempts,
	}
	if err := e.codes.Put(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.notifier.Send(ctx, channel, target, code); err != nil {
		if delErr := e.codes.Delete(ctx, string(purpose), target); delErr != nil {
			e.log.Warn("otp rollback failed", "purpose", purpose, "err", delErr)
		}
		e.metrics.Inc(MetricOTPChannelFailure)
		e.emitAudit(ctx, "otp_request", "", "", false, ErrChannelUnavailable,
			map[string]string{"purpose": string(purpose), "channel": string(channel)})
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	e.metrics.Inc(MetricOTPIssued)
	e.emitAudit(ctx, "otp_request", "", "", true, nil,
		map[string]string{"purpose": string(purpose), "channel": string(channel)})
	return nil
}

// consumeCode verifies a one-time code, translating store sentinels into
// the engine's taxonomy.
func (e *Engine) consumeCode(ctx context.Context, purpose Purpose, target, code string) error {
	_, err := e.codes.Consume(ctx, string(purpose), target, code)
	switch {
	case err == nil:
		e.metrics.Inc(MetricOTPVerified)
		return nil
	case errors.Is(err, otp.ErrNotFound):
		e.metrics.Inc(MetricOTPFailed)
		return ErrNotFound
	case errors.Is(err, otp.ErrExpired):
		e.metrics.Inc(MetricOTPFailed)
		return ErrOTPExpired
	case errors.Is(err, otp.ErrMismatch):
		e.metrics.Inc(MetricOTPFailed)
		return ErrCodeMismatch
	case errors.Is(err, otp.ErrExhausted):
		e.metrics.Inc(MetricOTPExhausted)
		return ErrAttemptsExhausted
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// RequestEmailVerification sends a verification code to the account's
// email. Unknown addresses are silently accepted so the call does not leak
// which emails are registered.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.requestCode(ctx, PurposeVerifyEmail, ChannelEmail, user.Email)
}

// ConfirmEmailVerification redeems a verification code and marks the email
// verified.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, email, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.consumeCode(ctx, PurposeVerifyEmail, email, code); err != nil {
		return err
	}
	user, err := e.users.UserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.SetEmailVerified(ctx, user.ID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, "email_verified", user.ID, "", true, nil, nil)
	return nil
}

// RequestPhoneVerification sends a verification code over sms or whatsapp
// to the user's registered phone.
func (e *Engine) RequestPhoneVerification(ctx context.Context, userID string, channel Channel) error {
	if err := e.ready(); err != nil {
		return err
	}
	if channel == ChannelEmail {
		return fmt.Errorf("authcore: phone verification requires an sms or whatsapp channel")
	}
	user, err := e.users.UserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Phone == "" {
		return ErrNotFound
	}
	return e.requestCode(ctx, PurposeVerifyPhone, channel, user.Phone)
}

// ConfirmPhoneVerification redeems a phone verification code.
func (e *Engine) ConfirmPhoneVerification(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.users.UserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.consumeCode(ctx, PurposeVerifyPhone, user.Phone, code); err != nil {
		return err
	}
	if err := e.users.SetPhoneVerified(ctx, user.ID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, "phone_verified", user.ID, "", true, nil, nil)
	return nil
}

// RequestPasswordReset sends a reset code to the email if it belongs to an
// account. The response is identical either way.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.metrics.Inc(MetricPasswordResetRequest)
	user, err := e.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.requestCode(ctx, PurposeResetPassword, ChannelEmail, user.Email)
}

// ResetPassword redeems a reset code, installs the new password, and
// revokes every live session of the account.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.consumeCode(ctx, PurposeResetPassword, email, code); err != nil {
		return err
	}
	user, err := e.users.UserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := e.sessions.RevokeAll(ctx, user.ID, session.ReasonPasswordReset); err != nil {
		e.log.Warn("session revocation after password reset failed", "user_id", user.ID, "err", err)
	}
	e.metrics.Inc(MetricPasswordResetDone)
	e.emitAudit(ctx, "password_reset", user.ID, "", true, nil, nil)
	return nil
}

// RequestLoginOTP starts a passwordless login by emailing a code. Unknown
// addresses are silently accepted.
func (e *Engine) RequestLoginOTP(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.requestCode(ctx, PurposeLoginChallenge, ChannelEmail, user.Email)
}

// CompleteOTPLogin redeems a login code and opens a session. Redeeming the
// code proves control of the mailbox, so the email is marked verified as a
// side effect.
func (e *Engine) CompleteOTPLogin(ctx context.Context, email, code, fingerprint string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.consumeCode(ctx, PurposeLoginChallenge, email, code); err != nil {
		return nil, err
	}
	user, err := e.users.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.EmailVerified {
		if err := e.users.SetEmailVerified(ctx, user.ID, true); err != nil {
			e.log.Warn("email verified flag update failed", "user_id", user.ID, "err", err)
		}
	}
	tokens, err := e.issueSession(ctx, user, fingerprint)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, "otp_login", user.ID, tokens.SessionID, true, nil, nil)
	return &LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

// RequestEmailChange sends a confirmation code to the address the user
// wants to move to. The address must not belong to another account.
func (e *Engine) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	if err := e.ready(); err != nil {
		return err
	}
	existing, err := e.users.UserByEmail(ctx, newEmail)
	if err == nil {
		if existing.ID == userID {
			return nil
		}
		return ErrEmailTaken
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return e.requestCode(ctx, PurposeChangeEmail, ChannelEmail, newEmail)
}

// ConfirmEmailChange redeems the confirmation code delivered to the new
// address and moves the account's email. The new email starts verified; the
// code proved control of the mailbox.
func (e *Engine) ConfirmEmailChange(ctx context.Context, userID, newEmail, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.consumeCode(ctx, PurposeChangeEmail, newEmail, code); err != nil {
		return err
	}
	if err := e.users.UpdateEmail(ctx, userID, newEmail); err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, "email_changed", userID, "", true, nil, nil)
	return nil
}

// RequestPhoneChange sends a confirmation code to the new phone number.
func (e *Engine) RequestPhoneChange(ctx context.Context, userID, newPhone string, channel Channel) error {
	if err := e.ready(); err != nil {
		return err
	}
	if channel == ChannelEmail {
		return fmt.Errorf("authcore: phone change requires an sms or whatsapp channel")
	}
	existing, err := e.users.UserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing.Phone == newPhone {
		return nil
	}
	return e.requestCode(ctx, PurposeChangePhone, channel, newPhone)
}

// ConfirmPhoneChange redeems the code sent to the new number and moves the
// account's phone.
func (e *Engine) ConfirmPhoneChange(ctx context.Context, userID, newPhone, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.consumeCode(ctx, PurposeChangePhone, newPhone, code); err != nil {
		return err
	}
	if err := e.users.UpdatePhone(ctx, userID, newPhone); err != nil {
		if errors.Is(err, ErrPhoneTaken) || errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, "phone_changed", userID, "", true, nil, nil)
	return nil
}

// EmailAvailable reports whether an email can be registered.
func (e *Engine) EmailAvailable(ctx context.Context, email string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	_, err := e.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return false, nil
}

// UsernameAvailable reports whether a username can be registered.
func (e *Engine) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	_, err := e.users.UserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return false, nil
}
