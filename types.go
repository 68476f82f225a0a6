package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/mypts/authcore/internal/audit"
	internalmetrics "github.com/mypts/authcore/internal/metrics"
)

// Role is the closed set of roles carried in access tokens. Role semantics
// live here and in the token layer only; callers must not compare raw
// strings.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// Channel identifies a delivery channel for one-time codes.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// Purpose binds a one-time code to the flow that requested it. A code issued
// for one purpose never verifies for another.
type Purpose string

const (
	PurposeVerifyEmail    Purpose = "verify-email"
	PurposeVerifyPhone    Purpose = "verify-phone"
	PurposeResetPassword  Purpose = "reset-password"
	PurposeLoginChallenge Purpose = "login-challenge"
	PurposeChangeEmail    Purpose = "change-email"
	PurposeChangePhone    Purpose = "change-phone"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeVerifyEmail, PurposeVerifyPhone, PurposeResetPassword,
		PurposeLoginChallenge, PurposeChangeEmail, PurposeChangePhone:
		return true
	}
	return false
}

// Notifier delivers one-time codes. Implementations are supplied by the
// caller (mailer, SMS gateway, WhatsApp bridge). The engine calls Send at
// most once per code request and surfaces failures as
// [ErrChannelUnavailable] without retrying; retry and backoff policy belongs
// to the implementation.
type Notifier interface {
	Send(ctx context.Context, channel Channel, target, payload string) error
}

// RegisterInput is the input for [Engine.Register].
type RegisterInput struct {
	Email       string
	Username    string
	Phone       string
	Password    string
	Fingerprint string
}

// TokenPair carries an access/refresh token pair and their expiries.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// LoginResult is returned by [Engine.Login]. When the account has two-factor
// enabled the token pair is withheld and ChallengeID references a pending
// challenge for [Engine.CompleteTwoFactorLogin].
type LoginResult struct {
	UserID            string
	Tokens            *TokenPair
	TwoFactorRequired bool
	ChallengeID       string
}

// OAuthResult is returned by [Engine.CompleteOAuthLogin].
type OAuthResult struct {
	User      UserRecord
	IsNewUser bool
	Tokens    *TokenPair
}

// TwoFactorEnrollment is returned by [Engine.EnrollTwoFactor]. Secret and
// RecoveryCodes are shown to the user exactly once and never persisted in
// plaintext.
type TwoFactorEnrollment struct {
	SecretBase32  string
	ProvisionURI  string
	RecoveryCodes []string
}

// AccessIdentity is the decoded result of [Engine.VerifyAccess].
type AccessIdentity struct {
	UserID    string
	SessionID string
	Role      Role
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricTwoFactorRequired    = internalmetrics.MetricTwoFactorRequired
	MetricTwoFactorFailure     = internalmetrics.MetricTwoFactorFailure
	MetricRefreshSuccess       = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure       = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected = internalmetrics.MetricRefreshReuseDetected
	MetricSessionCreated       = internalmetrics.MetricSessionCreated
	MetricSessionRevoked       = internalmetrics.MetricSessionRevoked
	MetricLogout               = internalmetrics.MetricLogout
	MetricLogoutAll            = internalmetrics.MetricLogoutAll
	MetricOTPIssued            = internalmetrics.MetricOTPIssued
	MetricOTPVerified          = internalmetrics.MetricOTPVerified
	MetricOTPFailed            = internalmetrics.MetricOTPFailed
	MetricOTPExhausted         = internalmetrics.MetricOTPExhausted
	MetricOTPChannelFailure    = internalmetrics.MetricOTPChannelFailure
	MetricRecoveryCodeUsed     = internalmetrics.MetricRecoveryCodeUsed
	MetricOAuthLoginNew        = internalmetrics.MetricOAuthLoginNew
	MetricOAuthLoginExisting   = internalmetrics.MetricOAuthLoginExisting
	MetricOAuthConflict        = internalmetrics.MetricOAuthConflict
	MetricPasswordResetRequest = internalmetrics.MetricPasswordResetRequest
	MetricPasswordResetDone    = internalmetrics.MetricPasswordResetDone
)

// Metrics holds atomic counters.
type Metrics = internalmetrics.Metrics

// NewMetrics builds a standalone counter set. The engine creates its own;
// this constructor exists for exporters and tests.
func NewMetrics(enabled bool) *Metrics {
	return internalmetrics.New(internalmetrics.Config{Enabled: enabled})
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot
