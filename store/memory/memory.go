// Package memory is an in-process CredentialStore for tests and examples.
// It enforces the same uniqueness contract as the durable implementations.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mypts/authcore"
)

// Store keeps all records in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	users      map[string]authcore.UserRecord
	byEmail    map[string]string
	byUsername map[string]string
	byPhone    map[string]string

	identities map[string]string                    // provider "\x00" subject -> userID
	userIdents map[string][]authcore.LinkedIdentity // userID -> identities

	twoFactor map[string]authcore.TwoFactorRecord
	recovery  map[string]map[[32]byte]struct{}

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:      make(map[string]authcore.UserRecord),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		byPhone:    make(map[string]string),
		identities: make(map[string]string),
		userIdents: make(map[string][]authcore.LinkedIdentity),
		twoFactor:  make(map[string]authcore.TwoFactorRecord),
		recovery:   make(map[string]map[[32]byte]struct{}),
		now:        time.Now,
	}
}

// WithNow overrides the clock used for CreatedAt stamps.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

func identKey(provider, subject string) string { return provider + "\x00" + subject }

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *Store) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normEmail(input.Email)
	if _, taken := s.byEmail[email]; taken {
		return authcore.UserRecord{}, authcore.ErrEmailTaken
	}
	if input.Username != "" {
		if _, taken := s.byUsername[strings.ToLower(input.Username)]; taken {
			return authcore.UserRecord{}, authcore.ErrUsernameTaken
		}
	}
	if input.Phone != "" {
		if _, taken := s.byPhone[input.Phone]; taken {
			return authcore.UserRecord{}, authcore.ErrPhoneTaken
		}
	}
	if input.Identity != nil {
		if _, taken := s.identities[identKey(input.Identity.Provider, input.Identity.SubjectID)]; taken {
			return authcore.UserRecord{}, authcore.ErrIdentityConflict
		}
	}

	rec := authcore.UserRecord{
		ID:            uuid.NewString(),
		Email:         email,
		Username:      input.Username,
		Phone:         input.Phone,
		PasswordHash:  input.PasswordHash,
		Role:          input.Role,
		EmailVerified: input.EmailVerified,
		CreatedAt:     s.now().UTC(),
	}
	s.users[rec.ID] = rec
	s.byEmail[email] = rec.ID
	if input.Username != "" {
		s.byUsername[strings.ToLower(input.Username)] = rec.ID
	}
	if input.Phone != "" {
		s.byPhone[input.Phone] = rec.ID
	}
	if input.Identity != nil {
		s.identities[identKey(input.Identity.Provider, input.Identity.SubjectID)] = rec.ID
		s.userIdents[rec.ID] = append(s.userIdents[rec.ID], *input.Identity)
	}
	return rec, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrNotFound
	}
	return rec, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normEmail(email)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UserByIdentity(ctx context.Context, provider, subjectID string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[identKey(provider, subjectID)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) LinkedIdentities(ctx context.Context, userID string) ([]authcore.LinkedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[userID]; !ok {
		return nil, authcore.ErrNotFound
	}
	out := make([]authcore.LinkedIdentity, len(s.userIdents[userID]))
	copy(out, s.userIdents[userID])
	return out, nil
}

func (s *Store) LinkIdentity(ctx context.Context, userID string, identity authcore.LinkedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return authcore.ErrNotFound
	}
	key := identKey(identity.Provider, identity.SubjectID)
	if owner, taken := s.identities[key]; taken {
		if owner == userID {
			return nil
		}
		return authcore.ErrIdentityConflict
	}
	for _, li := range s.userIdents[userID] {
		if li.Provider == identity.Provider {
			return authcore.ErrIdentityConflict
		}
	}
	s.identities[key] = userID
	s.userIdents[userID] = append(s.userIdents[userID], identity)
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	rec.PasswordHash = hash
	s.users[userID] = rec
	return nil
}

func (s *Store) UpdateEmail(ctx context.Context, userID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	next := normEmail(email)
	if owner, taken := s.byEmail[next]; taken && owner != userID {
		return authcore.ErrEmailTaken
	}
	delete(s.byEmail, rec.Email)
	rec.Email = next
	rec.EmailVerified = true
	s.users[userID] = rec
	s.byEmail[next] = userID
	return nil
}

func (s *Store) UpdatePhone(ctx context.Context, userID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	if owner, taken := s.byPhone[phone]; taken && owner != userID {
		return authcore.ErrPhoneTaken
	}
	if rec.Phone != "" {
		delete(s.byPhone, rec.Phone)
	}
	rec.Phone = phone
	rec.PhoneVerified = true
	s.users[userID] = rec
	s.byPhone[phone] = userID
	return nil
}

func (s *Store) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	rec.EmailVerified = verified
	s.users[userID] = rec
	return nil
}

func (s *Store) SetPhoneVerified(ctx context.Context, userID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	rec.PhoneVerified = verified
	s.users[userID] = rec
	return nil
}

func (s *Store) TwoFactor(ctx context.Context, userID string) (*authcore.TwoFactorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.twoFactor[userID]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	out := rec
	out.SecretEnc = append([]byte(nil), rec.SecretEnc...)
	return &out, nil
}

func (s *Store) SaveTwoFactor(ctx context.Context, userID string, record authcore.TwoFactorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return authcore.ErrNotFound
	}
	record.SecretEnc = append([]byte(nil), record.SecretEnc...)
	s.twoFactor[userID] = record
	return nil
}

func (s *Store) DeleteTwoFactor(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.twoFactor, userID)
	delete(s.recovery, userID)
	return nil
}

func (s *Store) UpdateTwoFactorLastUsedStep(ctx context.Context, userID string, step int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.twoFactor[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	if step > rec.LastUsedStep {
		rec.LastUsedStep = step
		s.twoFactor[userID] = rec
	}
	return nil
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return authcore.ErrNotFound
	}
	set := make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	s.recovery[userID] = set
	return nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.recovery[userID]
	if !ok {
		return false, nil
	}
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

var _ authcore.CredentialStore = (*Store)(nil)
