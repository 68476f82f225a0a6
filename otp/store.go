package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors reported by the store.
var (
	ErrNotFound  = errors.New("otp: no pending code")
	ErrExpired   = errors.New("otp: code expired")
	ErrMismatch  = errors.New("otp: code mismatch")
	ErrExhausted = errors.New("otp: attempts exhausted")
)

// Retries against optimistic-lock collisions before giving up.
const consumeRetries = 4

// expiredGrace keeps a record in Redis a little past its expiry so a late
// verification reports ErrExpired instead of decaying into ErrNotFound.
const expiredGrace = time.Minute

// Record is one pending code challenge.
type Record struct {
	Target    string   `json:"target"`
	Purpose   string   `json:"purpose"`
	CodeHash  [32]byte `json:"code_hash"`
	Salt      []byte   `json:"salt"`
	Channel   string   `json:"channel"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at"`
	Remaining int      `json:"remaining"`
}

// HashCode derives the stored digest for a code under a record's salt.
func HashCode(salt []byte, code string) [32]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Store persists challenge records as JSON strings with a Redis TTL.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{rdb: rdb, prefix: prefix, now: now}
}

func (s *Store) key(purpose, target string) string {
	return s.prefix + ":otp:" + purpose + ":" + target
}

// Put writes the record, replacing any live challenge for the same
// (purpose, target) pair.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	ttl := time.Unix(rec.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("otp: put: record already expired")
	}
	ttl += expiredGrace
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("otp: put: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(rec.Purpose, rec.Target), raw, ttl).Err(); err != nil {
		return fmt.Errorf("otp: put: %w", err)
	}
	return nil
}

// Delete drops any pending challenge. Missing records are fine.
func (s *Store) Delete(ctx context.Context, purpose, target string) error {
	if err := s.rdb.Del(ctx, s.key(purpose, target)).Err(); err != nil {
		return fmt.Errorf("otp: delete: %w", err)
	}
	return nil
}

// Consume verifies a presented code against the pending challenge. The
// attempt is spent before the comparison: a wrong code always costs one
// attempt, and the attempt that exhausts the budget fails with ErrExhausted
// even if later retried with the right code. A successful match deletes the
// record so the code is single-use.
func (s *Store) Consume(ctx context.Context, purpose, target, code string) (*Record, error) {
	key := s.key(purpose, target)

	var rec *Record
	var outcome error
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			outcome = ErrNotFound
			return nil
		}
		if err != nil {
			return err
		}
		r := new(Record)
		if err := json.Unmarshal(raw, r); err != nil {
			return fmt.Errorf("otp: corrupt record for %s: %w", key, err)
		}
		if r.ExpiresAt <= s.now().Unix() {
			outcome = ErrExpired
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		r.Remaining--
		want := HashCode(r.Salt, code)
		match := subtle.ConstantTimeCompare(want[:], r.CodeHash[:]) == 1

		switch {
		case match:
			rec = r
			outcome = nil
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		case r.Remaining <= 0:
			outcome = ErrExhausted
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		default:
			outcome = ErrMismatch
			updated, err := json.Marshal(r)
			if err != nil {
				return err
			}
			ttl, err := tx.TTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Second
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}
	}

	for i := 0; i < consumeRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("otp: consume: %w", err)
		}
		if outcome != nil {
			return nil, outcome
		}
		return rec, nil
	}
	return nil, fmt.Errorf("otp: consume: %w", redis.TxFailedErr)
}
