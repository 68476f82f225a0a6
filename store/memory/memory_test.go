package memory

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypts/authcore"
)

func TestCreateUserUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, authcore.CreateUserInput{
		Email: "A@Example.com", Username: "alice", Phone: "+15550001", Role: authcore.RoleUser,
	})
	require.NoError(t, err)

	// Email uniqueness is case-insensitive.
	_, err = s.CreateUser(ctx, authcore.CreateUserInput{Email: "a@example.com", Role: authcore.RoleUser})
	assert.ErrorIs(t, err, authcore.ErrEmailTaken)

	_, err = s.CreateUser(ctx, authcore.CreateUserInput{Email: "b@example.com", Username: "Alice", Role: authcore.RoleUser})
	assert.ErrorIs(t, err, authcore.ErrUsernameTaken)

	_, err = s.CreateUser(ctx, authcore.CreateUserInput{Email: "b@example.com", Phone: "+15550001", Role: authcore.RoleUser})
	assert.ErrorIs(t, err, authcore.ErrPhoneTaken)
}

func TestLookups(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateUser(ctx, authcore.CreateUserInput{
		Email: "a@example.com", Username: "alice", Role: authcore.RoleUser,
	})
	require.NoError(t, err)

	byID, err := s.UserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)

	byEmail, err := s.UserByEmail(ctx, "A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byName, err := s.UserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	_, err = s.UserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestLinkIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.CreateUser(ctx, authcore.CreateUserInput{Email: "a@example.com", Role: authcore.RoleUser})
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, authcore.CreateUserInput{Email: "b@example.com", Role: authcore.RoleUser})
	require.NoError(t, err)

	ident := authcore.LinkedIdentity{Provider: "google", SubjectID: "sub-1"}
	require.NoError(t, s.LinkIdentity(ctx, a.ID, ident))

	// Re-linking the same pair to the same user is a no-op.
	assert.NoError(t, s.LinkIdentity(ctx, a.ID, ident))

	// The pair belongs to someone else.
	assert.ErrorIs(t, s.LinkIdentity(ctx, b.ID, ident), authcore.ErrIdentityConflict)

	// One identity per provider per user.
	err = s.LinkIdentity(ctx, a.ID, authcore.LinkedIdentity{Provider: "google", SubjectID: "sub-2"})
	assert.ErrorIs(t, err, authcore.ErrIdentityConflict)

	got, err := s.UserByIdentity(ctx, "google", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	idents, err := s.LinkedIdentities(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, idents, 1)
}

func TestUpdateEmailMovesIndex(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, authcore.CreateUserInput{Email: "old@example.com", Role: authcore.RoleUser})
	require.NoError(t, err)
	other, err := s.CreateUser(ctx, authcore.CreateUserInput{Email: "taken@example.com", Role: authcore.RoleUser})
	require.NoError(t, err)

	assert.ErrorIs(t, s.UpdateEmail(ctx, u.ID, "taken@example.com"), authcore.ErrEmailTaken)
	require.NoError(t, s.UpdateEmail(ctx, u.ID, "new@example.com"))

	_, err = s.UserByEmail(ctx, "old@example.com")
	assert.ErrorIs(t, err, authcore.ErrNotFound)

	got, err := s.UserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.EmailVerified)

	_ = other
}

func TestTwoFactorLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, authcore.CreateUserInput{Email: "a@example.com", Role: authcore.RoleUser})
	require.NoError(t, err)

	_, err = s.TwoFactor(ctx, u.ID)
	assert.ErrorIs(t, err, authcore.ErrNotFound)

	require.NoError(t, s.SaveTwoFactor(ctx, u.ID, authcore.TwoFactorRecord{SecretEnc: []byte("enc"), Enabled: false}))
	rec, err := s.TwoFactor(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, rec.Enabled)

	require.NoError(t, s.UpdateTwoFactorLastUsedStep(ctx, u.ID, 100))
	// A lower step never rewinds the watermark.
	require.NoError(t, s.UpdateTwoFactorLastUsedStep(ctx, u.ID, 50))
	rec, err = s.TwoFactor(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.LastUsedStep)

	require.NoError(t, s.DeleteTwoFactor(ctx, u.ID))
	_, err = s.TwoFactor(ctx, u.ID)
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestRecoveryCodesAreSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, authcore.CreateUserInput{Email: "a@example.com", Role: authcore.RoleUser})
	require.NoError(t, err)

	h1 := sha256.Sum256([]byte("code-one"))
	h2 := sha256.Sum256([]byte("code-two"))
	require.NoError(t, s.ReplaceRecoveryCodes(ctx, u.ID, [][32]byte{h1, h2}))

	ok, err := s.ConsumeRecoveryCode(ctx, u.ID, h1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeRecoveryCode(ctx, u.ID, h1)
	require.NoError(t, err)
	assert.False(t, ok)

	// Replacing the set invalidates the rest.
	require.NoError(t, s.ReplaceRecoveryCodes(ctx, u.ID, nil))
	ok, err = s.ConsumeRecoveryCode(ctx, u.ID, h2)
	require.NoError(t, err)
	assert.False(t, ok)
}
