// Package account implements the account store: CRUD over account records
// with a unique-email guarantee and a conditional write primitive that
// gives reconciliation per-account atomicity.
package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup or update targets a non-existent account.
var ErrNotFound = errors.New("account not found")

// ErrDuplicateEmail is returned when a create attempts to reuse a registered email.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrStale is returned by UpdateIf when the stored provisioning pair no
// longer matches the expectation. Callers re-read and re-branch.
var ErrStale = errors.New("account state changed since read")

// ErrUnavailable wraps connectivity and other backend failures so callers
// can surface a generic store-unavailable condition without retrying here.
var ErrUnavailable = errors.New("account store unavailable")

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name               *string
	PasswordHash       *string
	AvatarURL          *string
	Provider           *Provider
	ProviderSubjectID  *string
	EmailVerified      *bool
	NeedsPasswordSetup *bool
}

// Expect is the compare half of the UpdateIf compare-and-set: the
// (passwordHash present, needsPasswordSetup) pair the caller observed.
type Expect struct {
	HasPassword        bool
	NeedsPasswordSetup bool
}

// Store is the single source of truth consulted by every other component.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, id uuid.UUID, p Patch) (*Account, error)

	// UpdateIf applies p only while the stored provisioning pair still
	// matches expect. Returns ErrStale on a mismatch so the caller can
	// re-read; this is what keeps two concurrent OAuth sign-ins for the
	// same email from losing an update.
	UpdateIf(ctx context.Context, id uuid.UUID, expect Expect, p Patch) (*Account, error)
}
