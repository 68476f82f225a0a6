package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
}

func TestIssueAndParseAccess(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	token, expires, err := m.IssueAccess("u1", "s1", "user")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expires, time.Minute)

	claims, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "user", claims.Role)
}

func TestIssueAndParseRefresh(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	token, _, err := m.IssueRefresh("u1", "s1", 4)
	require.NoError(t, err)

	claims, err := m.ParseRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, uint32(4), claims.TokenVersion)
}

func TestAccessTokenRejectedAsRefresh(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	token, _, err := m.IssueAccess("u1", "s1", "user")
	require.NoError(t, err)

	_, err = m.ParseRefresh(token)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseExpired(t *testing.T) {
	issued := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	cfg := testConfig()
	cfg.Now = func() time.Time { return issued }
	issuer, err := NewManager(cfg)
	require.NoError(t, err)

	token, _, err := issuer.IssueAccess("u1", "s1", "user")
	require.NoError(t, err)

	cfg.Now = func() time.Time { return issued.Add(16 * time.Minute) }
	verifier, err := NewManager(cfg)
	require.NoError(t, err)

	_, err = verifier.ParseAccess(token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestParseWrongKey(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)
	token, _, err := m.IssueAccess("u1", "s1", "user")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.PrivateKey = []byte("another-key-another-key-another!")
	other, err := NewManager(cfg)
	require.NoError(t, err)

	_, err = other.ParseAccess(token)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestParseGarbage(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	_, err = m.ParseAccess("not-a-token")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyKeyRollover(t *testing.T) {
	oldKey := []byte("old-signing-key-old-signing-key!")
	newKey := []byte("new-signing-key-new-signing-key!")

	oldCfg := testConfig()
	oldCfg.PrivateKey = oldKey
	oldCfg.KeyID = "k1"
	oldIssuer, err := NewManager(oldCfg)
	require.NoError(t, err)

	oldToken, _, err := oldIssuer.IssueAccess("u1", "s1", "user")
	require.NoError(t, err)

	// Rolled-over manager signs under k2 but still verifies k1 tokens.
	newCfg := testConfig()
	newCfg.PrivateKey = newKey
	newCfg.KeyID = "k2"
	newCfg.VerifyKeys = map[string][]byte{"k1": oldKey, "k2": newKey}
	rolled, err := NewManager(newCfg)
	require.NoError(t, err)

	_, err = rolled.ParseAccess(oldToken)
	assert.NoError(t, err)

	newToken, _, err := rolled.IssueAccess("u2", "s2", "admin")
	require.NoError(t, err)
	claims, err := rolled.ParseAccess(newToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
}

func TestNewManagerValidation(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = 0
	_, err := NewManager(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.PrivateKey = nil
	_, err = NewManager(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.SigningMethod = "rs512"
	_, err = NewManager(cfg)
	assert.Error(t, err)
}
