package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// mfaChallengeStore holds the short-lived bridge between a password login
// that requires a second factor and the code submission completing it. The
// challenge id stands in for the credentials so they are never replayed.
type mfaChallengeStore struct {
	rdb         redis.UniversalClient
	prefix      string
	ttl         time.Duration
	maxAttempts int
}

type mfaChallenge struct {
	UserID      string
	Fingerprint string
}

var (
	errChallengeNotFound  = errors.New("mfa challenge not found")
	errChallengeExhausted = errors.New("mfa challenge attempts exhausted")
)

func newMFAChallengeStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, maxAttempts int) *mfaChallengeStore {
	return &mfaChallengeStore{rdb: rdb, prefix: prefix, ttl: ttl, maxAttempts: maxAttempts}
}

func (s *mfaChallengeStore) key(id string) string { return s.prefix + ":mfa:" + id }

func (s *mfaChallengeStore) create(ctx context.Context, userID, fingerprint string) (string, error) {
	id := uuid.NewString()
	key := s.key(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", userID,
			"fingerprint", fingerprint,
			"remaining", s.maxAttempts,
		)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("mfa challenge: create: %w", err)
	}
	return id, nil
}

// spendAttempt loads the challenge and burns one attempt. The attempt that
// drops the counter below zero deletes the challenge and reports
// exhaustion; expiry surfaces as not-found through the Redis TTL.
func (s *mfaChallengeStore) spendAttempt(ctx context.Context, id string) (*mfaChallenge, error) {
	key := s.key(id)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("mfa challenge: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, errChallengeNotFound
	}

	remaining, err := s.rdb.HIncrBy(ctx, key, "remaining", -1).Result()
	if err != nil {
		return nil, fmt.Errorf("mfa challenge: spend: %w", err)
	}
	if remaining < 0 {
		_ = s.rdb.Del(ctx, key).Err()
		return nil, errChallengeExhausted
	}

	return &mfaChallenge{
		UserID:      fields["user_id"],
		Fingerprint: fields["fingerprint"],
	}, nil
}

func (s *mfaChallengeStore) delete(ctx context.Context, id string) {
	_ = s.rdb.Del(ctx, s.key(id)).Err()
}
