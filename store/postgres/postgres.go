// Package postgres is the durable CredentialStore backed by PostgreSQL via
// pgx. Uniqueness is enforced by the schema; constraint violations are
// translated into the store's taken/conflict errors.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mypts/authcore"
)

const uniqueViolation = "23505"

// Store runs all queries on a shared pgx pool owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func mapUniqueErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return authcore.ErrEmailTaken
	case strings.Contains(pgErr.ConstraintName, "username"):
		return authcore.ErrUsernameTaken
	case strings.Contains(pgErr.ConstraintName, "phone"):
		return authcore.ErrPhoneTaken
	case strings.Contains(pgErr.ConstraintName, "identities"):
		return authcore.ErrIdentityConflict
	default:
		return err
	}
}

const userColumns = `id, email, COALESCE(username, ''), COALESCE(phone, ''),
	password_hash, role, email_verified, phone_verified, created_at`

func scanUser(row pgx.Row) (authcore.UserRecord, error) {
	var rec authcore.UserRecord
	var role string
	err := row.Scan(&rec.ID, &rec.Email, &rec.Username, &rec.Phone,
		&rec.PasswordHash, &role, &rec.EmailVerified, &rec.PhoneVerified, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return authcore.UserRecord{}, authcore.ErrNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("postgres: scan user: %w", err)
	}
	rec.Role = authcore.Role(role)
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("postgres: create user: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO users (id, email, username, phone, password_hash, role, email_verified)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		id, input.Email, nullable(input.Username), nullable(input.Phone),
		input.PasswordHash, string(input.Role), input.EmailVerified)
	rec, err := scanUser(row)
	if err != nil {
		return authcore.UserRecord{}, mapUniqueErr(err)
	}

	if input.Identity != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO identities (provider, subject_id, user_id)
			VALUES ($1, $2, $3)`,
			input.Identity.Provider, input.Identity.SubjectID, id)
		if err != nil {
			return authcore.UserRecord{}, mapUniqueErr(fmt.Errorf("postgres: link identity: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return authcore.UserRecord{}, fmt.Errorf("postgres: create user: %w", err)
	}
	return rec, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (authcore.UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
}

func (s *Store) UserByIdentity(ctx context.Context, provider, subjectID string) (authcore.UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users u
		JOIN identities i ON i.user_id = u.id
		WHERE i.provider = $1 AND i.subject_id = $2`,
		provider, subjectID))
}

func (s *Store) LinkedIdentities(ctx context.Context, userID string) ([]authcore.LinkedIdentity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider, subject_id FROM identities
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: linked identities: %w", err)
	}
	defer rows.Close()

	var out []authcore.LinkedIdentity
	for rows.Next() {
		var li authcore.LinkedIdentity
		if err := rows.Scan(&li.Provider, &li.SubjectID); err != nil {
			return nil, fmt.Errorf("postgres: linked identities: %w", err)
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (s *Store) LinkIdentity(ctx context.Context, userID string, identity authcore.LinkedIdentity) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO identities (provider, subject_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, subject_id) DO NOTHING`,
		identity.Provider, identity.SubjectID, userID)
	if err != nil {
		return mapUniqueErr(fmt.Errorf("postgres: link identity: %w", err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// The pair already exists; a no-op only if it already points at us.
	var owner string
	err = s.pool.QueryRow(ctx, `
		SELECT user_id FROM identities WHERE provider = $1 AND subject_id = $2`,
		identity.Provider, identity.SubjectID).Scan(&owner)
	if err != nil {
		return fmt.Errorf("postgres: link identity: %w", err)
	}
	if owner != userID {
		return authcore.ErrIdentityConflict
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapUniqueErr(fmt.Errorf("postgres: %s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.exec(ctx, "update password",
		`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
}

func (s *Store) UpdateEmail(ctx context.Context, userID, email string) error {
	return s.exec(ctx, "update email",
		`UPDATE users SET email = lower($2), email_verified = TRUE WHERE id = $1`, userID, email)
}

func (s *Store) UpdatePhone(ctx context.Context, userID, phone string) error {
	return s.exec(ctx, "update phone",
		`UPDATE users SET phone = $2, phone_verified = TRUE WHERE id = $1`, userID, phone)
}

func (s *Store) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	return s.exec(ctx, "set email verified",
		`UPDATE users SET email_verified = $2 WHERE id = $1`, userID, verified)
}

func (s *Store) SetPhoneVerified(ctx context.Context, userID string, verified bool) error {
	return s.exec(ctx, "set phone verified",
		`UPDATE users SET phone_verified = $2 WHERE id = $1`, userID, verified)
}

func (s *Store) TwoFactor(ctx context.Context, userID string) (*authcore.TwoFactorRecord, error) {
	var rec authcore.TwoFactorRecord
	err := s.pool.QueryRow(ctx, `
		SELECT secret_enc, enabled, last_used_step FROM two_factor WHERE user_id = $1`,
		userID).Scan(&rec.SecretEnc, &rec.Enabled, &rec.LastUsedStep)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: two factor: %w", err)
	}
	return &rec, nil
}

func (s *Store) SaveTwoFactor(ctx context.Context, userID string, record authcore.TwoFactorRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO two_factor (user_id, secret_enc, enabled, last_used_step)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_enc = EXCLUDED.secret_enc,
		    enabled = EXCLUDED.enabled,
		    last_used_step = EXCLUDED.last_used_step`,
		userID, record.SecretEnc, record.Enabled, record.LastUsedStep)
	if err != nil {
		return fmt.Errorf("postgres: save two factor: %w", err)
	}
	return nil
}

func (s *Store) DeleteTwoFactor(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM two_factor WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete two factor: %w", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete recovery codes: %w", err)
	}
	return nil
}

func (s *Store) UpdateTwoFactorLastUsedStep(ctx context.Context, userID string, step int64) error {
	// Monotonic: a concurrent lower step never rewinds the watermark.
	tag, err := s.pool.Exec(ctx, `
		UPDATE two_factor SET last_used_step = $2
		WHERE user_id = $1 AND last_used_step < $2`,
		userID, step)
	if err != nil {
		return fmt.Errorf("postgres: update last used step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM two_factor WHERE user_id = $1)`, userID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: update last used step: %w", err)
		}
		if !exists {
			return authcore.ErrNotFound
		}
	}
	return nil
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: replace recovery codes: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: replace recovery codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO recovery_codes (user_id, hash) VALUES ($1, $2)`,
			userID, h[:]); err != nil {
			return fmt.Errorf("postgres: replace recovery codes: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: replace recovery codes: %w", err)
	}
	return nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM recovery_codes WHERE user_id = $1 AND hash = $2`,
		userID, hash[:])
	if err != nil {
		return false, fmt.Errorf("postgres: consume recovery code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ authcore.CredentialStore = (*Store)(nil)
