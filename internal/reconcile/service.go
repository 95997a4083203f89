// Package reconcile implements the sign-in state machine: it merges an
// incoming credential or OAuth assertion with the stored account and
// decides whether to create, update, or leave the account untouched.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tollgate-io/tollgate/internal/account"
	"github.com/tollgate-io/tollgate/internal/credential"
	"github.com/tollgate-io/tollgate/internal/notify"
	"go.uber.org/zap"
)

// ErrInvalidCredentials is the single opaque failure for credential
// sign-in: unknown email, password-less account, and wrong password all
// report identically so callers cannot enumerate accounts.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailTaken is returned when registration targets an existing email.
var ErrEmailTaken = errors.New("email already registered")

// ErrNotFound is returned when an operation targets a non-existent account id.
var ErrNotFound = errors.New("account not found")

// ErrStoreUnavailable is the generic failure surfaced for store
// connectivity problems. Retry policy belongs to the caller.
var ErrStoreUnavailable = errors.New("account store unavailable")

// Reconciliation case names, reported through the metrics callback.
const (
	CaseCreated      = "created"
	CaseSettled      = "settled"
	CaseMetadataOnly = "metadata"
	CaseRepaired     = "repaired"
)

// maxReconcileRetries bounds the re-read-and-rebranch loop when the
// conditional write loses a race. Two concurrent sign-ins settle in one
// retry; anything deeper indicates a store fault.
const maxReconcileRetries = 3

// OAuthAssertion is a verified identity claim from the OAuth provider.
type OAuthAssertion struct {
	Email       string
	DisplayName string
	AvatarURL   string
	SubjectID   string
}

// Reconciler drives all account state transitions.
type Reconciler struct {
	store       account.Store
	verifier    *credential.Verifier
	logger      *zap.Logger
	onReconcile func(caseName string) // optional metrics hook

	notifier notify.Sender // optional; reminds fresh OAuth accounts to set a password
	setupURL string
}

// New creates a Reconciler.
func New(store account.Store, verifier *credential.Verifier, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, verifier: verifier, logger: logger}
}

// SetReconcileRecorder configures an optional callback invoked with the
// reconciliation case applied by each ReconcileOAuth call.
func (r *Reconciler) SetReconcileRecorder(fn func(caseName string)) {
	r.onReconcile = fn
}

// SetNotifier configures an optional sender for the password-setup reminder
// mailed to newly created OAuth accounts. setupURL is the page the reminder
// links to.
func (r *Reconciler) SetNotifier(s notify.Sender, setupURL string) {
	r.notifier = s
	r.setupURL = setupURL
}

// Authenticate verifies a credential sign-in. On success it returns the
// account unchanged — this path never mutates state.
func (r *Reconciler) Authenticate(ctx context.Context, email, plaintext string) (*account.Account, error) {
	a, err := r.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Burn a hash comparison anyway; see credential.Verify.
			r.verifier.Verify(plaintext, "")
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr("lookup account", err)
	}

	if !r.verifier.Verify(plaintext, a.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// Register creates a credential account. Email ownership is assumed
// verified at registration.
func (r *Reconciler) Register(ctx context.Context, name, email, plaintext string) (*account.Account, error) {
	if err := r.verifier.CheckPolicy(plaintext); err != nil {
		return nil, err
	}

	hash, err := r.verifier.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	a := &account.Account{
		Email:              account.NormalizeEmail(email),
		Name:               name,
		PasswordHash:       hash,
		Provider:           account.ProviderCredentials,
		EmailVerified:      true,
		NeedsPasswordSetup: false,
	}
	if err := r.store.Create(ctx, a); err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, storeErr("create account", err)
	}

	r.logger.Info("account registered",
		zap.String("account_id", a.ID.String()),
		zap.String("provider", string(a.Provider)),
	)
	return a, nil
}

// ReconcileOAuth merges a verified OAuth assertion with stored state.
// It is a state-transition function, not a blind overwrite: the branch is
// chosen from the provisioning pair observed on read, and the write is
// conditional on that pair still holding. Four disjoint cases:
//
//  1. no account            → create, flag set true (the only such path)
//  2. password, flag false  → no-op; established credential users stay untouched
//  3. no password, flag true → metadata only; flag and hash untouched
//  4. password, flag true   → repair: clear the flag, update metadata
func (r *Reconciler) ReconcileOAuth(ctx context.Context, assertion OAuthAssertion) (*account.Account, error) {
	for attempt := 0; attempt < maxReconcileRetries; attempt++ {
		a, err := r.store.FindByEmail(ctx, assertion.Email)
		if err != nil {
			if !errors.Is(err, account.ErrNotFound) {
				return nil, storeErr("lookup account", err)
			}
			created, createErr := r.createFromOAuth(ctx, assertion)
			if createErr == nil {
				r.record(CaseCreated)
				return created, nil
			}
			if errors.Is(createErr, account.ErrDuplicateEmail) {
				// Lost a create race; re-read and branch on the winner's state.
				continue
			}
			return nil, createErr
		}

		updated, err := r.applyOAuthTransition(ctx, a, assertion)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, account.ErrStale) {
			continue
		}
		if errors.Is(err, account.ErrNotFound) {
			// Account vanished between read and write; start over.
			continue
		}
		return nil, err
	}
	return nil, storeErr("reconcile oauth", account.ErrStale)
}

// createFromOAuth handles case 1: a fresh OAuth-originated account with no
// usable password. This is the only path that sets needsPasswordSetup true.
func (r *Reconciler) createFromOAuth(ctx context.Context, assertion OAuthAssertion) (*account.Account, error) {
	a := &account.Account{
		Email:              account.NormalizeEmail(assertion.Email),
		Name:               assertion.DisplayName,
		AvatarURL:          assertion.AvatarURL,
		Provider:           account.ProviderOAuth,
		ProviderSubjectID:  assertion.SubjectID,
		EmailVerified:      true,
		NeedsPasswordSetup: true,
	}
	if err := r.store.Create(ctx, a); err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, storeErr("create oauth account", err)
	}
	r.logger.Info("account created from oauth",
		zap.String("account_id", a.ID.String()),
		zap.String("subject_id", a.ProviderSubjectID),
	)

	if r.notifier != nil {
		subject, body := notify.PasswordSetupReminder(a.Name, r.setupURL)
		if err := r.notifier.Send(ctx, a.Email, subject, body); err != nil {
			// The reminder is best-effort; sign-in proceeds regardless.
			r.logger.Warn("send password setup reminder", zap.Error(err))
		}
	}
	return a, nil
}

// applyOAuthTransition handles cases 2–4 for an existing account.
func (r *Reconciler) applyOAuthTransition(ctx context.Context, a *account.Account, assertion OAuthAssertion) (*account.Account, error) {
	expect := account.Expect{
		HasPassword:        a.HasPassword(),
		NeedsPasswordSetup: a.NeedsPasswordSetup,
	}

	// Case 2: established credential user. Leave everything alone.
	if a.HasPassword() && !a.NeedsPasswordSetup {
		r.record(CaseSettled)
		return a, nil
	}

	provider := account.ProviderOAuth
	p := account.Patch{
		AvatarURL:         &assertion.AvatarURL,
		Provider:          &provider,
		ProviderSubjectID: &assertion.SubjectID,
	}

	caseName := CaseMetadataOnly
	if a.HasPassword() && a.NeedsPasswordSetup {
		// Case 4: inconsistent state — a password exists but the flag was
		// never cleared. Repair it here instead of propagating it.
		cleared := false
		p.NeedsPasswordSetup = &cleared
		caseName = CaseRepaired
	}
	// Case 3 (and the unnamed no-password/flag-false combination) fall
	// through with a metadata-only patch: the flag is never touched, and
	// in particular never flipped back to true for an existing account.

	updated, err := r.store.UpdateIf(ctx, a.ID, expect, p)
	if err != nil {
		if errors.Is(err, account.ErrStale) || errors.Is(err, account.ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("update account", err)
	}

	if caseName == CaseRepaired {
		r.logger.Warn("repaired inconsistent provisioning state",
			zap.String("account_id", a.ID.String()),
		)
	}
	r.record(caseName)
	return updated, nil
}

// SetPassword sets the account password and clears needsPasswordSetup.
// This is the one operation licensed to clear the flag outside the
// reconciliation repair path.
func (r *Reconciler) SetPassword(ctx context.Context, accountID uuid.UUID, plaintext string) (*account.Account, error) {
	if err := r.verifier.CheckPolicy(plaintext); err != nil {
		return nil, err
	}

	hash, err := r.verifier.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("set password: %w", err)
	}

	cleared := false
	a, err := r.store.Update(ctx, accountID, account.Patch{
		PasswordHash:       &hash,
		NeedsPasswordSetup: &cleared,
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr("set password", err)
	}

	r.logger.Info("password set", zap.String("account_id", a.ID.String()))
	return a, nil
}

func (r *Reconciler) record(caseName string) {
	if r.onReconcile != nil {
		r.onReconcile(caseName)
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
