package authcore

import (
	"errors"
	"log/slog"
	"time"
)

// Config carries every tunable for the engine. Build one with
// [DefaultConfig], override what you need, and pass it to [New]. Config
// values are read at construction and treated as immutable afterwards.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	OTP       OTPConfig
	TwoFactor TwoFactorConfig
	Password  PasswordConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// Logger receives warn-level notes for best-effort failures. Defaults
	// to slog.Default.
	Logger *slog.Logger

	// Now is the clock used for every expiry comparison. Defaults to
	// time.Now; tests inject fixed times here.
	Now func() time.Time
}

// JWTConfig configures the token issuer. The signing key is explicit
// configuration: rotating it invalidates all outstanding tokens, which is a
// documented operational action. VerifyKeys allows staged rollover by
// accepting tokens signed under retired key ids.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
}

// SessionConfig configures the Redis session store.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime bounds a session regardless of rotation activity.
	Lifetime time.Duration
	// TombstoneGrace keeps revoked session records around past their
	// expiry so that replayed tokens from a compromised lineage keep
	// failing loudly instead of decaying into not-found.
	TombstoneGrace time.Duration
}

// OTPConfig configures one-time code issuance and verification.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// TwoFactorConfig configures TOTP enrollment and validation.
type TwoFactorConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int // accepted time steps either side of now
	Algorithm string

	RecoveryCodeCount  int
	RecoveryCodeLength int

	// ChallengeTTL bounds the window between a password login that
	// requires a second factor and the code submission completing it.
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int

	// SecretKey is the 32-byte AES key under which shared secrets are
	// encrypted at rest.
	SecretKey []byte
}

// PasswordConfig carries argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes verified passwords whose stored parameters
	// are weaker than the configured ones.
	UpgradeOnLogin bool
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns a production-leaning baseline.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "authcore",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:    "ac",
			Lifetime:       7 * 24 * time.Hour,
			TombstoneGrace: time.Hour,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "authcore",
			Digits:               6,
			Period:               30,
			Skew:                 1,
			Algorithm:            "SHA1",
			RecoveryCodeCount:    10,
			RecoveryCodeLength:   8,
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate checks cross-field consistency. [New] calls it; exported so
// callers can fail fast on boot.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("authcore: token TTLs must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("authcore: access TTL must be shorter than refresh TTL")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("authcore: session lifetime must be positive")
	}
	if c.Session.Lifetime < c.JWT.RefreshTTL {
		return errors.New("authcore: session lifetime must cover the refresh TTL")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("authcore: otp digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("authcore: otp ttl must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("authcore: otp max attempts must be at least 1")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 8 {
		return errors.New("authcore: totp digits must be between 6 and 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("authcore: totp period must be positive")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("authcore: totp skew must be between 0 and 2")
	}
	if len(c.TwoFactor.SecretKey) != 32 {
		return errors.New("authcore: two-factor secret key must be 32 bytes")
	}
	if c.TwoFactor.RecoveryCodeCount < 1 || c.TwoFactor.RecoveryCodeLength < 6 {
		return errors.New("authcore: recovery code parameters too small")
	}
	if c.TwoFactor.ChallengeTTL <= 0 || c.TwoFactor.ChallengeMaxAttempts < 1 {
		return errors.New("authcore: two-factor challenge parameters invalid")
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) now() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}
