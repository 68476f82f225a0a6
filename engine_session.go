package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mypts/authcore/session"
)

// SessionInfo is one entry of the active-sessions listing.
type SessionInfo = session.Summary

// Refresh rotates a refresh token: the presented token is retired and a new
// pair is issued atomically against the session record. Presenting a
// superseded token revokes the whole session and returns
// [ErrSessionCompromised]; from then on every token of that lineage fails
// the same way.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, mapTokenErr(err)
	}

	newRefresh, refreshExp, err := e.tokens.IssueRefresh(claims.Subject, claims.SessionID, claims.TokenVersion+1)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Rotate(ctx, claims.SessionID, hashToken(refreshToken), hashToken(newRefresh))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			e.metrics.Inc(MetricRefreshReuseDetected)
			e.metrics.Inc(MetricSessionRevoked)
			e.emitAudit(ctx, "refresh", claims.Subject, claims.SessionID, false, ErrSessionCompromised, nil)
			return nil, ErrSessionCompromised
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrRevoked):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrSessionNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	access, accessExp, err := e.tokens.IssueAccess(sess.UserID, sess.ID, sess.Role)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, "refresh", sess.UserID, sess.ID, true, nil, nil)
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: refreshExp,
		SessionID:        sess.ID,
	}, nil
}

// VerifyAccess checks an access token's signature and expiry and returns
// the identity it carries. Verification is stateless; revocation takes
// effect at the refresh boundary, which is why access TTLs are short.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (AccessIdentity, error) {
	if err := e.ready(); err != nil {
		return AccessIdentity{}, err
	}
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return AccessIdentity{}, mapTokenErr(err)
	}
	role := Role(claims.Role)
	if !role.Valid() {
		return AccessIdentity{}, ErrTokenMalformed
	}
	return AccessIdentity{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Role:      role,
	}, nil
}

// Logout revokes one session. Revoking an unknown or already revoked
// session is a no-op.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Revoke(ctx, sessionID, session.ReasonUserLogout); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionRevoked)
	e.emitAudit(ctx, "logout", "", sessionID, true, nil, nil)
	return nil
}

// LogoutAll revokes every live session of a user and reports how many were
// revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.RevokeAll(ctx, userID, session.ReasonUserLogoutAll)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Inc(MetricLogoutAll)
	for i := 0; i < n; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, "logout_all", userID, "", true, nil, map[string]string{"revoked": fmt.Sprintf("%d", n)})
	return n, nil
}

// Sessions lists a user's live sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	list, err := e.sessions.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return list, nil
}
