package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

const totpSecretBytes = 20

// EnrollTwoFactor generates a fresh shared secret and recovery code set for
// the user. The secret is stored encrypted and disabled; it carries no
// weight until [Engine.ConfirmTwoFactorEnrollment] proves the authenticator
// holds it. Re-enrolling while a confirmation is pending replaces the
// pending material.
func (e *Engine) EnrollTwoFactor(ctx context.Context, userID string) (*TwoFactorEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, err := e.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	existing, err := e.users.TwoFactor(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil && existing.Enabled {
		return nil, ErrAlreadyEnabled
	}

	secret := make([]byte, totpSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	secretEnc, err := e.secrets.Seal(secret)
	if err != nil {
		return nil, err
	}
	if err := e.users.SaveTwoFactor(ctx, userID, TwoFactorRecord{SecretEnc: secretEnc}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes, err := generateRecoveryCodes(e.cfg.TwoFactor.RecoveryCodeCount, e.cfg.TwoFactor.RecoveryCodeLength)
	if err != nil {
		return nil, err
	}
	hashes := make([][32]byte, len(codes))
	for i, c := range codes {
		hashes[i] = hashRecoveryCode(c)
	}
	if err := e.users.ReplaceRecoveryCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	secretBase32 := base32NoPad.EncodeToString(secret)
	e.emitAudit(ctx, "two_factor_enroll", userID, "", true, nil, nil)
	return &TwoFactorEnrollment{
		SecretBase32: secretBase32,
		ProvisionURI: provisionURI(e.cfg.TwoFactor.Issuer, user.Email, secretBase32,
			e.cfg.TwoFactor.Digits, e.cfg.TwoFactor.Period, e.cfg.TwoFactor.Algorithm),
		RecoveryCodes: codes,
	}, nil
}

// ConfirmTwoFactorEnrollment proves the authenticator holds the pending
// secret and switches two-factor on.
func (e *Engine) ConfirmTwoFactorEnrollment(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	rec, err := e.users.TwoFactor(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrNoPendingEnrollment
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec.Enabled {
		return ErrNoPendingEnrollment
	}

	secret, err := e.secrets.Open(rec.SecretEnc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	step, ok := validateTOTP(secret, code, e.now(),
		e.cfg.TwoFactor.Digits, e.cfg.TwoFactor.Period, e.cfg.TwoFactor.Skew, e.cfg.TwoFactor.Algorithm)
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		return ErrInvalidCode
	}

	rec.Enabled = true
	rec.LastUsedStep = step
	if err := e.users.SaveTwoFactor(ctx, userID, *rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, "two_factor_enabled", userID, "", true, nil, nil)
	return nil
}

// ValidateTwoFactor accepts either a current TOTP code or an unused
// recovery code. A TOTP code is good for one validation only: its time step
// is recorded and replays at or below the watermark are rejected. Recovery
// codes burn on use.
func (e *Engine) ValidateTwoFactor(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	rec, err := e.users.TwoFactor(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !rec.Enabled {
		return ErrNotEnabled
	}

	secret, err := e.secrets.Open(rec.SecretEnc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	step, ok := validateTOTP(secret, code, e.now(),
		e.cfg.TwoFactor.Digits, e.cfg.TwoFactor.Period, e.cfg.TwoFactor.Skew, e.cfg.TwoFactor.Algorithm)
	if ok {
		if step <= rec.LastUsedStep {
			e.metrics.Inc(MetricTwoFactorFailure)
			return ErrInvalidCode
		}
		if err := e.users.UpdateTwoFactorLastUsedStep(ctx, userID, step); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}

	used, err := e.users.ConsumeRecoveryCode(ctx, userID, hashRecoveryCode(code))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if used {
		e.metrics.Inc(MetricRecoveryCodeUsed)
		e.emitAudit(ctx, "recovery_code_used", userID, "", true, nil, nil)
		return nil
	}

	e.metrics.Inc(MetricTwoFactorFailure)
	return ErrInvalidCode
}

// DisableTwoFactor switches two-factor off after a successful validation
// with a current code or a recovery code. The secret and any unused
// recovery codes are destroyed.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.ValidateTwoFactor(ctx, userID, code); err != nil {
		return err
	}
	if err := e.users.DeleteTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, "two_factor_disabled", userID, "", true, nil, nil)
	return nil
}
