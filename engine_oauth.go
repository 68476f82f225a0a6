package authcore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ExternalIdentity is a verified assertion from an OAuth provider. The
// caller has already completed the provider handshake; the engine only
// consumes the result.
type ExternalIdentity struct {
	Provider  string
	SubjectID string
	// Email as asserted by the provider; used for account matching only
	// when the provider marks it verified.
	Email         string
	EmailVerified bool
}

// usernameAttempts bounds the search for a free username derived from the
// email local part.
const usernameAttempts = 10

// CompleteOAuthLogin resolves an external identity to a local account and
// opens a session. Resolution order is fixed: the (provider, subject) pair
// wins; failing that, a verified email match links the identity to the
// existing account; failing both, a new account is created.
//
// An email that maps to an account already bound to a different subject of
// the same provider is a conflict, never an implicit merge.
func (e *Engine) CompleteOAuthLogin(ctx context.Context, ident ExternalIdentity, fingerprint string) (*OAuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if ident.Provider == "" || ident.SubjectID == "" {
		return nil, fmt.Errorf("%w: provider and subject are required", ErrInvalidCredentials)
	}

	user, err := e.users.UserByIdentity(ctx, ident.Provider, ident.SubjectID)
	if err == nil {
		return e.finishOAuth(ctx, user, fingerprint, false)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if ident.Email != "" && ident.EmailVerified {
		byEmail, err := e.users.UserByEmail(ctx, ident.Email)
		switch {
		case err == nil:
			if err := e.linkOAuthIdentity(ctx, byEmail.ID, ident); err != nil {
				return nil, err
			}
			return e.finishOAuth(ctx, byEmail, fingerprint, false)
		case errors.Is(err, ErrNotFound):
			// Fall through to account creation.
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	user, err = e.createOAuthUser(ctx, ident)
	if err != nil {
		return nil, err
	}
	return e.finishOAuth(ctx, user, fingerprint, true)
}

func (e *Engine) linkOAuthIdentity(ctx context.Context, userID string, ident ExternalIdentity) error {
	idents, err := e.users.LinkedIdentities(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, li := range idents {
		if li.Provider == ident.Provider && li.SubjectID != ident.SubjectID {
			e.metrics.Inc(MetricOAuthConflict)
			e.emitAudit(ctx, "oauth_login", userID, "", false, ErrIdentityConflict,
				map[string]string{"provider": ident.Provider})
			return ErrIdentityConflict
		}
	}
	err = e.users.LinkIdentity(ctx, userID, LinkedIdentity{Provider: ident.Provider, SubjectID: ident.SubjectID})
	if errors.Is(err, ErrIdentityConflict) {
		e.metrics.Inc(MetricOAuthConflict)
		return ErrIdentityConflict
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) createOAuthUser(ctx context.Context, ident ExternalIdentity) (UserRecord, error) {
	if ident.Email == "" {
		return UserRecord{}, fmt.Errorf("%w: provider asserted no email", ErrInvalidCredentials)
	}

	base := usernameBase(ident.Email)
	candidate := base
	for attempt := 0; attempt < usernameAttempts; attempt++ {
		user, err := e.users.CreateUser(ctx, CreateUserInput{
			Email:         ident.Email,
			Username:      candidate,
			Role:          RoleUser,
			EmailVerified: ident.EmailVerified,
			Identity:      &LinkedIdentity{Provider: ident.Provider, SubjectID: ident.SubjectID},
		})
		if err == nil {
			return user, nil
		}
		if errors.Is(err, ErrUsernameTaken) {
			suffix, rndErr := randomDigits(4)
			if rndErr != nil {
				return UserRecord{}, rndErr
			}
			candidate = base + suffix
			continue
		}
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrIdentityConflict) {
			// Raced with a concurrent signup for the same address.
			return UserRecord{}, ErrIdentityConflict
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return UserRecord{}, ErrIDGenerationFailed
}

func (e *Engine) finishOAuth(ctx context.Context, user UserRecord, fingerprint string, isNew bool) (*OAuthResult, error) {
	tokens, err := e.issueSession(ctx, user, fingerprint)
	if err != nil {
		return nil, err
	}
	if isNew {
		e.metrics.Inc(MetricOAuthLoginNew)
	} else {
		e.metrics.Inc(MetricOAuthLoginExisting)
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, "oauth_login", user.ID, tokens.SessionID, true, nil,
		map[string]string{"new_user": fmt.Sprintf("%t", isNew)})
	return &OAuthResult{User: user, IsNewUser: isNew, Tokens: tokens}, nil
}

// usernameBase derives a username candidate from the email local part,
// keeping letters, digits, and separators only.
func usernameBase(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func randomDigits(n int) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	v := binary.BigEndian.Uint64(buf[:])
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('0' + v%10)
		v /= 10
	}
	return string(out), nil
}
