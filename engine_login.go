package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Register creates an account with a verified password hash and opens its
// first session. Email is required; username and phone are optional but
// unique when present. Email verification is a separate flow.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (UserRecord, *TokenPair, error) {
	if err := e.ready(); err != nil {
		return UserRecord{}, nil, err
	}
	if strings.TrimSpace(input.Email) == "" {
		return UserRecord{}, nil, fmt.Errorf("%w: email is required", ErrInvalidCredentials)
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return UserRecord{}, nil, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        input.Email,
		Username:     input.Username,
		Phone:        input.Phone,
		PasswordHash: hash,
		Role:         RoleUser,
	})
	if err != nil {
		e.emitAudit(ctx, "register", "", "", false, err, nil)
		return UserRecord{}, nil, err
	}

	tokens, err := e.issueSession(ctx, user, input.Fingerprint)
	if err != nil {
		return UserRecord{}, nil, err
	}

	e.emitAudit(ctx, "register", user.ID, tokens.SessionID, true, nil, nil)
	return user, tokens, nil
}

// Login verifies a password against the account matching identifier (email
// when it contains '@', username otherwise). Accounts with two-factor
// enabled get a challenge id instead of tokens; finish with
// [Engine.CompleteTwoFactorLogin].
//
// Every failure path returns [ErrInvalidCredentials] and costs a hash
// verification, whether or not the account exists.
func (e *Engine) Login(ctx context.Context, identifier, pass, fingerprint string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, lookupErr := e.lookupByIdentifier(ctx, identifier)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			_, _ = e.hasher.Verify(pass, e.decoyHash)
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, "login", "", "", false, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lookupErr)
	}
	if user.PasswordHash == "" {
		// OAuth-only account; no password to check.
		_, _ = e.hasher.Verify(pass, e.decoyHash)
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, "login", user.ID, "", false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, "login", user.ID, "", false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	e.maybeUpgradeHash(ctx, user.ID, pass, user.PasswordHash)

	if e.twoFactorEnabled(ctx, user.ID) {
		challengeID, err := e.mfa.create(ctx, user.ID, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metrics.Inc(MetricTwoFactorRequired)
		e.emitAudit(ctx, "login", user.ID, "", true, nil, map[string]string{"two_factor": "required"})
		return &LoginResult{UserID: user.ID, TwoFactorRequired: true, ChallengeID: challengeID}, nil
	}

	tokens, err := e.issueSession(ctx, user, fingerprint)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, "login", user.ID, tokens.SessionID, true, nil, nil)
	return &LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

// CompleteTwoFactorLogin redeems a pending challenge with a TOTP or
// recovery code. Each wrong code spends one challenge attempt; exhaustion
// or expiry invalidates the challenge and forces a fresh password login.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	challenge, err := e.mfa.spendAttempt(ctx, challengeID)
	switch {
	case errors.Is(err, errChallengeNotFound):
		return nil, ErrNotFound
	case errors.Is(err, errChallengeExhausted):
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, "two_factor_login", "", "", false, ErrAttemptsExhausted, nil)
		return nil, ErrAttemptsExhausted
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.ValidateTwoFactor(ctx, challenge.UserID, code); err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, "two_factor_login", challenge.UserID, "", false, err, nil)
		if errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrNotEnabled) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	e.mfa.delete(ctx, challengeID)

	user, err := e.users.UserByID(ctx, challenge.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tokens, err := e.issueSession(ctx, user, challenge.Fingerprint)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, "two_factor_login", user.ID, tokens.SessionID, true, nil, nil)
	return &LoginResult{UserID: user.ID, Tokens: tokens}, nil
}

func (e *Engine) lookupByIdentifier(ctx context.Context, identifier string) (UserRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return e.users.UserByEmail(ctx, identifier)
	}
	return e.users.UserByUsername(ctx, identifier)
}

// maybeUpgradeHash rehashes under current parameters after a successful
// verification. Best effort: a failure only logs.
func (e *Engine) maybeUpgradeHash(ctx context.Context, userID, pass, storedHash string) {
	if !e.cfg.Password.UpgradeOnLogin {
		return
	}
	upgrade, err := e.hasher.NeedsUpgrade(storedHash)
	if err != nil || !upgrade {
		return
	}
	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		e.log.Warn("password rehash failed", "user_id", userID, "err", err)
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		e.log.Warn("password rehash store failed", "user_id", userID, "err", err)
	}
}

func (e *Engine) twoFactorEnabled(ctx context.Context, userID string) bool {
	rec, err := e.users.TwoFactor(ctx, userID)
	if err != nil {
		return false
	}
	return rec.Enabled
}
