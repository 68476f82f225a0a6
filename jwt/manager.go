package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrExpired is returned when a token's exp claim has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for tokens that do not parse, carry the
	// wrong type claim, or fail claim validation for non-signature
	// reasons.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Config carries the issuer's keys and windows. The signing key is explicit
// configuration injected at construction; rotating it invalidates every
// outstanding token, which callers must treat as a deliberate operational
// action. VerifyKeys maps key ids to verification keys for staged rollover.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
	Now           func() time.Time
}

// AccessClaims is the deterministic claim set of an access token:
// {sub, sid, role, iat, exp}.
type AccessClaims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set of a refresh token: {sub, sid, iat, exp,
// tv}. TokenVersion mirrors the session's rotation counter; the stored hash
// comparison in the session layer stays authoritative for reuse detection.
type RefreshClaims struct {
	SessionID    string `json:"sid"`
	TokenVersion uint32 `json:"tv"`
	TokenType    string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager mints and verifies tokens. All methods are safe for concurrent
// use.
type Manager struct {
	config Config
	now    func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("jwt: TTLs must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("jwt: ed25519 requires a public key or verify key set")
		}
	default:
		return nil, errors.New("jwt: unsupported signing method")
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify key map contains empty kid")
		}
		if cfg.SigningMethod == MethodEd25519 {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("jwt: invalid verify key for kid %q: %w", kid, err)
			}
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// IssueAccess signs a short-lived access token for the given subject,
// session, and role.
func (m *Manager) IssueAccess(userID, sessionID, role string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.config.AccessTTL)

	claims := AccessClaims{
		SessionID: sessionID,
		Role:      role,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := m.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// IssueRefresh signs a long-lived refresh token carrying the session's
// rotation counter.
func (m *Manager) IssueRefresh(userID, sessionID string, tokenVersion uint32) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.config.RefreshTTL)

	claims := RefreshClaims{
		SessionID:    sessionID,
		TokenVersion: tokenVersion,
		TokenType:    typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := m.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseAccess verifies and decodes an access token.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != typeAccess {
		return nil, ErrMalformed
	}
	return claims, nil
}

// ParseRefresh verifies and decodes a refresh token.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != typeRefresh {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, m.verifyKeyFor)
	if err != nil {
		return classify(err)
	}
	if !token.Valid {
		return ErrMalformed
	}
	return nil
}

func (m *Manager) verifyKeyFor(t *jwt.Token) (any, error) {
	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyBytesToVerifyKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func (m *Manager) keyBytesToVerifyKey(key []byte) (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (m *Manager) signKey() (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

// classify folds the library's error chain into the three kinds callers
// branch on. Signature problems win over everything else; expiry wins over
// generic malformation.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
