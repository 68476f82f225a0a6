package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors reported by the store.
var (
	ErrNotFound      = errors.New("session: not found")
	ErrExpired       = errors.New("session: expired")
	ErrReuseDetected = errors.New("session: refresh token reuse detected")
	ErrRevoked       = errors.New("session: revoked")
)

// RevokedError carries the tombstone reason alongside ErrRevoked so callers
// can tell a compromised lineage apart from an ordinary logout.
type RevokedError struct {
	Reason string
}

func (e *RevokedError) Error() string { return "session: revoked (" + e.Reason + ")" }

func (e *RevokedError) Is(target error) bool { return target == ErrRevoked }

// rotateLua performs the compare-and-swap at the heart of refresh rotation.
//
// KEYS[1] session hash
// ARGV[1] presented refresh hash (hex)
// ARGV[2] replacement refresh hash (hex)
// ARGV[3] now, unix seconds
// ARGV[4] tombstone grace, seconds
//
// Returns {status, detail}:
//
//	{"ok", token_version} on successful swap
//	{"revoked", reason}   when the session already carries a tombstone
//	{"expired", ""}       when the lifetime has lapsed (tombstone written)
//	{"reuse", ""}         on hash mismatch (session revoked before returning)
//	{"not_found", ""}     when the key does not exist
var rotateLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {"not_found", ""}
end
local now = tonumber(ARGV[3])
local grace = tonumber(ARGV[4])
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return {"revoked", redis.call("HGET", KEYS[1], "revoke_reason") or ""}
end
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at"))
if exp <= now then
  redis.call("HSET", KEYS[1], "revoked", "1", "revoke_reason", "expired")
  redis.call("EXPIRE", KEYS[1], grace)
  return {"expired", ""}
end
if redis.call("HGET", KEYS[1], "refresh_hash") ~= ARGV[1] then
  redis.call("HSET", KEYS[1], "revoked", "1", "revoke_reason", "reuse_detected")
  redis.call("EXPIRE", KEYS[1], (exp - now) + grace)
  return {"reuse", ""}
end
local v = redis.call("HINCRBY", KEYS[1], "token_version", 1)
redis.call("HSET", KEYS[1], "refresh_hash", ARGV[2], "rotated_at", ARGV[3])
return {"ok", tostring(v)}
`)

// revokeLua writes the tombstone exactly once; a later revocation never
// overwrites the first recorded reason.
//
// KEYS[1] session hash
// ARGV[1] reason
// ARGV[2] tombstone grace, seconds
var revokeLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoke_reason", ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

// Store keeps session records in Redis hashes plus a per-user index set.
type Store struct {
	rdb      redis.UniversalClient
	prefix   string
	lifetime time.Duration
	grace    time.Duration
	now      func() time.Time
}

func NewStore(rdb redis.UniversalClient, prefix string, lifetime, grace time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{rdb: rdb, prefix: prefix, lifetime: lifetime, grace: grace, now: now}
}

func (s *Store) key(sid string) string     { return s.prefix + ":sess:" + sid }
func (s *Store) userKey(uid string) string { return s.prefix + ":usess:" + uid }

// Create persists a fresh session record and registers it in the owner's
// index. The record and the index entry share the session lifetime plus the
// tombstone grace so the index never outlives its members for long.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	now := s.now()
	sess.CreatedAt = now.Unix()
	sess.RotatedAt = now.Unix()
	sess.ExpiresAt = now.Add(s.lifetime).Unix()

	key := s.key(sess.ID)
	ttl := s.lifetime + s.grace
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", sess.UserID,
			"role", sess.Role,
			"refresh_hash", sess.RefreshHash,
			"token_version", strconv.FormatUint(uint64(sess.TokenVersion), 10),
			"fingerprint", sess.Fingerprint,
			"created_at", strconv.FormatInt(sess.CreatedAt, 10),
			"rotated_at", strconv.FormatInt(sess.RotatedAt, 10),
			"expires_at", strconv.FormatInt(sess.ExpiresAt, 10),
			"revoked", "0",
			"revoke_reason", "",
		)
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

// Get loads a session as stored, tombstones included. It does not evaluate
// expiry; Rotate and List do.
func (s *Store) Get(ctx context.Context, sid string) (*Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseSession(sid, fields)
}

// Rotate atomically swaps the stored refresh hash for newHash, provided the
// presented hash still matches. On mismatch the session is revoked with
// reason reuse_detected and ErrReuseDetected is returned; the caller must
// treat the lineage as compromised.
func (s *Store) Rotate(ctx context.Context, sid, presentedHash, newHash string) (*Session, error) {
	now := s.now().Unix()
	res, err := rotateLua.Run(ctx, s.rdb, []string{s.key(sid)},
		presentedHash, newHash, now, int64(s.grace.Seconds())).Slice()
	if err != nil {
		return nil, fmt.Errorf("session: rotate: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("session: rotate: unexpected script reply %v", res)
	}
	status, _ := res[0].(string)
	detail, _ := res[1].(string)

	switch status {
	case "ok":
		sess, err := s.Get(ctx, sid)
		if err != nil {
			return nil, err
		}
		return sess, nil
	case "not_found":
		return nil, ErrNotFound
	case "expired":
		return nil, ErrExpired
	case "reuse":
		return nil, ErrReuseDetected
	case "revoked":
		if detail == ReasonReuseDetected {
			return nil, ErrReuseDetected
		}
		if detail == ReasonExpired {
			return nil, ErrExpired
		}
		return nil, &RevokedError{Reason: detail}
	default:
		return nil, fmt.Errorf("session: rotate: unknown status %q", status)
	}
}

// Revoke writes a tombstone. Revoking an already revoked or missing session
// is a no-op.
func (s *Store) Revoke(ctx context.Context, sid, reason string) error {
	err := revokeLua.Run(ctx, s.rdb, []string{s.key(sid)},
		reason, int64(s.grace.Seconds())).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// RevokeAll tombstones every session in the user's index and reports how
// many were newly revoked.
func (s *Store) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	sids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	revoked := 0
	for _, sid := range sids {
		n, err := revokeLua.Run(ctx, s.rdb, []string{s.key(sid)},
			reason, int64(s.grace.Seconds())).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return revoked, fmt.Errorf("session: revoke all: %w", err)
		}
		revoked += n
	}
	return revoked, nil
}

// List returns the user's live sessions, oldest first. Dead index entries
// (revoked, expired, or already evicted) are pruned from the index as a
// side effect.
func (s *Store) List(ctx context.Context, userID string) ([]Summary, error) {
	sids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	now := s.now().Unix()
	var out []Summary
	var stale []interface{}
	for _, sid := range sids {
		sess, err := s.Get(ctx, sid)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, sid)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Revoked || sess.ExpiresAt <= now {
			stale = append(stale, sid)
			continue
		}
		out = append(out, Summary{
			ID:          sess.ID,
			Fingerprint: sess.Fingerprint,
			CreatedAt:   time.Unix(sess.CreatedAt, 0).UTC(),
			RotatedAt:   time.Unix(sess.RotatedAt, 0).UTC(),
		})
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("session: list: prune: %w", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func parseSession(sid string, fields map[string]string) (*Session, error) {
	version, err := strconv.ParseUint(fields["token_version"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("session: corrupt token_version for %s: %w", sid, err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: corrupt created_at for %s: %w", sid, err)
	}
	rotatedAt, err := strconv.ParseInt(fields["rotated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: corrupt rotated_at for %s: %w", sid, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: corrupt expires_at for %s: %w", sid, err)
	}
	return &Session{
		ID:           sid,
		UserID:       fields["user_id"],
		Role:         fields["role"],
		RefreshHash:  fields["refresh_hash"],
		TokenVersion: uint32(version),
		Fingerprint:  fields["fingerprint"],
		CreatedAt:    createdAt,
		RotatedAt:    rotatedAt,
		ExpiresAt:    expiresAt,
		Revoked:      fields["revoked"] == "1",
		RevokeReason: fields["revoke_reason"],
	}, nil
}
