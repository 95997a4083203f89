package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, email, name, password_hash, avatar_url, provider,
	provider_subject_id, email_verified, needs_password_setup, created_at, updated_at`

// Create inserts a new account. Sets ID, CreatedAt, UpdatedAt on the record.
func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Email = NormalizeEmail(a.Email)

	q := `
		INSERT INTO accounts (id, email, name, password_hash, avatar_url, provider,
			provider_subject_id, email_verified, needs_password_setup, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.Exec(ctx, q,
		a.ID, a.Email, a.Name, a.PasswordHash, a.AvatarURL, a.Provider,
		a.ProviderSubjectID, a.EmailVerified, a.NeedsPasswordSetup, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("%w: create account: %w", ErrUnavailable, err)
	}
	return nil
}

// FindByEmail retrieves an account by its normalized email address.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return s.scanOne(ctx, q, NormalizeEmail(email))
}

// FindByID retrieves an account by its internal UUID.
func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return s.scanOne(ctx, q, id)
}

// Update applies a partial update and returns the updated account.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, p Patch) (*Account, error) {
	return s.update(ctx, id, nil, p)
}

// UpdateIf applies a partial update only while the stored
// (password_hash, needs_password_setup) pair still matches expect.
func (s *PostgresStore) UpdateIf(ctx context.Context, id uuid.UUID, expect Expect, p Patch) (*Account, error) {
	return s.update(ctx, id, &expect, p)
}

func (s *PostgresStore) update(ctx context.Context, id uuid.UUID, expect *Expect, p Patch) (*Account, error) {
	set := "updated_at = $2"
	args := []any{id, time.Now().UTC()}

	add := func(col string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.PasswordHash != nil {
		add("password_hash", *p.PasswordHash)
	}
	if p.AvatarURL != nil {
		add("avatar_url", *p.AvatarURL)
	}
	if p.Provider != nil {
		add("provider", *p.Provider)
	}
	if p.ProviderSubjectID != nil {
		add("provider_subject_id", *p.ProviderSubjectID)
	}
	if p.EmailVerified != nil {
		add("email_verified", *p.EmailVerified)
	}
	if p.NeedsPasswordSetup != nil {
		add("needs_password_setup", *p.NeedsPasswordSetup)
	}

	where := "id = $1"
	if expect != nil {
		// Single-statement compare-and-set on the provisioning pair.
		args = append(args, expect.HasPassword)
		where += fmt.Sprintf(" AND (password_hash <> '') = $%d", len(args))
		args = append(args, expect.NeedsPasswordSetup)
		where += fmt.Sprintf(" AND needs_password_setup = $%d", len(args))
	}

	q := "UPDATE accounts SET " + set + " WHERE " + where + " RETURNING " + accountColumns
	a, err := s.scanOne(ctx, q, args...)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if expect == nil {
				return nil, ErrNotFound
			}
			// Distinguish a missing row from a failed condition.
			if _, findErr := s.FindByID(ctx, id); findErr == nil {
				return nil, ErrStale
			} else if errors.Is(findErr, ErrNotFound) {
				return nil, ErrNotFound
			} else {
				return nil, findErr
			}
		}
		return nil, err
	}
	return a, nil
}

// scanOne executes a single-row query and scans the result into an Account.
func (s *PostgresStore) scanOne(ctx context.Context, q string, args ...any) (*Account, error) {
	var a Account
	err := s.db.QueryRow(ctx, q, args...).Scan(
		&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.AvatarURL, &a.Provider,
		&a.ProviderSubjectID, &a.EmailVerified, &a.NeedsPasswordSetup, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &a, nil
}
