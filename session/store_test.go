package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Unix(1_700_000_000, 0)
	st := NewStore(rdb, "ac", time.Hour, 10*time.Minute, func() time.Time { return now })
	return st, &now
}

func mustCreate(t *testing.T, st *Store, sid, uid, hash string) *Session {
	t.Helper()
	sess := &Session{
		ID:          sid,
		UserID:      uid,
		Role:        "user",
		RefreshHash: hash,
		Fingerprint: "laptop",
	}
	require.NoError(t, st.Create(context.Background(), sess))
	return sess
}

func TestCreateAndGet(t *testing.T) {
	st, _ := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "h0", got.RefreshHash)
	assert.Equal(t, uint32(0), got.TokenVersion)
	assert.False(t, got.Revoked)
}

func TestGetMissing(t *testing.T) {
	st, _ := testStore(t)
	_, err := st.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateSequenceIncrementsVersion(t *testing.T) {
	st, _ := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")

	hash := "h0"
	for i := 1; i <= 5; i++ {
		next := "h" + string(rune('0'+i))
		sess, err := st.Rotate(context.Background(), "s1", hash, next)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), sess.TokenVersion)
		assert.Equal(t, next, sess.RefreshHash)
		hash = next
	}
}

func TestRotateWithStaleHashRevokesSession(t *testing.T) {
	st, _ := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")

	_, err := st.Rotate(context.Background(), "s1", "h0", "h1")
	require.NoError(t, err)

	// Replaying the superseded hash burns the whole lineage.
	_, err = st.Rotate(context.Background(), "s1", "h0", "h2")
	assert.ErrorIs(t, err, ErrReuseDetected)

	// Even the latest hash is now refused.
	_, err = st.Rotate(context.Background(), "s1", "h1", "h2")
	assert.ErrorIs(t, err, ErrReuseDetected)

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, ReasonReuseDetected, got.RevokeReason)
}

func TestRotateMissingSession(t *testing.T) {
	st, _ := testStore(t)
	_, err := st.Rotate(context.Background(), "nope", "h0", "h1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateExpiredSession(t *testing.T) {
	st, now := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")

	*now = now.Add(2 * time.Hour)
	_, err := st.Rotate(context.Background(), "s1", "h0", "h1")
	assert.ErrorIs(t, err, ErrExpired)

	// Lazy expiry leaves a tombstone behind, not a fresh session.
	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, ReasonExpired, got.RevokeReason)
}

func TestRevokeIsIdempotentAndKeepsFirstReason(t *testing.T) {
	st, _ := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")

	require.NoError(t, st.Revoke(context.Background(), "s1", ReasonUserLogout))
	require.NoError(t, st.Revoke(context.Background(), "s1", ReasonPasswordReset))

	got, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, ReasonUserLogout, got.RevokeReason)

	_, err = st.Rotate(context.Background(), "s1", "h0", "h1")
	var re *RevokedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonUserLogout, re.Reason)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestRevokeMissingSessionIsNoOp(t *testing.T) {
	st, _ := testStore(t)
	assert.NoError(t, st.Revoke(context.Background(), "nope", ReasonUserLogout))
}

func TestRevokeAll(t *testing.T) {
	st, _ := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")
	mustCreate(t, st, "s2", "u1", "h0")
	mustCreate(t, st, "s3", "u2", "h0")

	n, err := st.RevokeAll(context.Background(), "u1", ReasonUserLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := st.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	other, err := st.List(context.Background(), "u2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestListSkipsDeadSessionsAndPrunesIndex(t *testing.T) {
	st, now := testStore(t)
	mustCreate(t, st, "s1", "u1", "h0")

	*now = now.Add(time.Minute)
	mustCreate(t, st, "s2", "u1", "h0")
	require.NoError(t, st.Revoke(context.Background(), "s2", ReasonUserLogout))

	list, err := st.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)
}

func TestListOrdersByCreation(t *testing.T) {
	st, now := testStore(t)
	mustCreate(t, st, "old", "u1", "h0")
	*now = now.Add(time.Minute)
	mustCreate(t, st, "new", "u1", "h0")

	list, err := st.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "old", list[0].ID)
	assert.Equal(t, "new", list[1].ID)
}
