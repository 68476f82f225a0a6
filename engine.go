package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	internalaudit "github.com/mypts/authcore/internal/audit"
	internalmetrics "github.com/mypts/authcore/internal/metrics"
	"github.com/mypts/authcore/jwt"
	"github.com/mypts/authcore/otp"
	"github.com/mypts/authcore/password"
	"github.com/mypts/authcore/secretbox"
	"github.com/mypts/authcore/session"
)

// Engine is the authentication core. It owns token issuance, session
// lifecycle, one-time codes, two-factor material, and external identity
// linking; the caller owns transport, validation, and delivery channels.
//
// An Engine is safe for concurrent use. Build one with [New] and release it
// with [Close].
type Engine struct {
	cfg      Config
	users    CredentialStore
	notifier Notifier

	tokens   *jwt.Manager
	sessions *session.Store
	codes    *otp.Store
	mfa      *mfaChallengeStore
	hasher   *password.Hasher
	secrets  *secretbox.Cipher

	// decoyHash burns comparable time on lookups that miss, so a failed
	// login is indistinguishable whether the account exists or not.
	decoyHash string

	metrics *internalmetrics.Metrics
	audit   *internalaudit.Dispatcher
	log     *slog.Logger
	now     func() time.Time
}

// New builds an Engine. The Redis client backs sessions, one-time codes,
// and pending two-factor challenges; the credential store backs everything
// durable. sink may be nil to discard audit events.
func New(cfg Config, rdb redis.UniversalClient, users CredentialStore, notifier Notifier, sink AuditSink) (*Engine, error) {
	if rdb == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if users == nil {
		return nil, errors.New("authcore: credential store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := cfg.now()

	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	decoyHash, err := hasher.Hash("decoy-" + uuid.NewString())
	if err != nil {
		return nil, err
	}

	secrets, err := secretbox.New(cfg.TwoFactor.SecretKey)
	if err != nil {
		return nil, err
	}

	var dispatcher *internalaudit.Dispatcher
	if cfg.Audit.Enabled {
		dispatcher = internalaudit.NewDispatcher(sink, cfg.Audit.BufferSize, cfg.Audit.DropIfFull)
	}

	prefix := cfg.Session.RedisPrefix
	e := &Engine{
		cfg:       cfg,
		users:     users,
		notifier:  notifier,
		tokens:    tokens,
		sessions:  session.NewStore(rdb, prefix, cfg.Session.Lifetime, cfg.Session.TombstoneGrace, now),
		codes:     otp.NewStore(rdb, prefix, now),
		mfa:       newMFAChallengeStore(rdb, prefix, cfg.TwoFactor.ChallengeTTL, cfg.TwoFactor.ChallengeMaxAttempts),
		hasher:    hasher,
		secrets:   secrets,
		decoyHash: decoyHash,
		metrics:   internalmetrics.New(internalmetrics.Config{Enabled: cfg.Metrics.Enabled}),
		audit:     dispatcher,
		log:       cfg.logger(),
		now:       now,
	}
	return e, nil
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Metrics exposes the engine's counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) emitAudit(ctx context.Context, eventType, userID, sessionID string, success bool, opErr error, meta map[string]string) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		TenantID:  tenantFromContext(ctx),
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	e.audit.Emit(ctx, event)
}

// hashToken is the stored fingerprint of a refresh token. Sessions never
// hold the token itself.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// issueSession creates a session record and mints its first token pair.
func (e *Engine) issueSession(ctx context.Context, user UserRecord, fingerprint string) (*TokenPair, error) {
	if fingerprint == "" {
		fingerprint = userAgentFromContext(ctx)
	}

	sid := uuid.NewString()
	refresh, refreshExp, err := e.tokens.IssueRefresh(user.ID, sid, 0)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := e.tokens.IssueAccess(user.ID, sid, string(user.Role))
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		ID:          sid,
		UserID:      user.ID,
		Role:        string(user.Role),
		RefreshHash: hashToken(refresh),
		Fingerprint: fingerprint,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Inc(MetricSessionCreated)

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		SessionID:        sid,
	}, nil
}

// mapTokenErr folds token-layer sentinels into the engine's taxonomy.
func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrMalformed):
		return ErrTokenMalformed
	default:
		return err
	}
}
