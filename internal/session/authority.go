package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tollgate-io/tollgate/internal/account"
	"go.uber.org/zap"
)

// ErrUnauthenticated is returned when a token is missing, expired, or
// invalid, or when the account it references no longer exists.
var ErrUnauthenticated = errors.New("unauthenticated")

// Session is the one enriched session value. Only Authority.Authorize
// constructs it; no other code path may build or mutate one.
type Session struct {
	AccountID uuid.UUID
	Email     string
	Name      string
	AvatarURL string

	// NeedsPasswordSetup is re-derived from the account store on every
	// Authorize call — never the token snapshot. A password set on one
	// device is honored on another device's next request because of this.
	NeedsPasswordSetup bool
}

// Authority issues session tokens and re-validates them against current
// stored state.
type Authority struct {
	codec  *TokenCodec
	store  account.Store
	logger *zap.Logger
}

// NewAuthority creates an Authority.
func NewAuthority(codec *TokenCodec, store account.Store, logger *zap.Logger) *Authority {
	return &Authority{codec: codec, store: store, logger: logger}
}

// Codec exposes the underlying token codec for OAuth state round trips.
func (a *Authority) Codec() *TokenCodec {
	return a.codec
}

// Issue mints a session token for the account. The provisioning flag it
// carries is a snapshot; Authorize never trusts it.
func (a *Authority) Issue(acct *account.Account) (string, error) {
	return a.codec.Sign(acct.ID.String(), acct.Email, acct.Name, acct.AvatarURL, acct.NeedsPasswordSetup)
}

// Authorize verifies the token's signature and expiry, then re-reads the
// account store by the embedded email and overwrites the provisioning
// snapshot with the freshly read value. If the account no longer exists
// the session is treated as unauthenticated.
func (a *Authority) Authorize(ctx context.Context, tokenStr string) (*Session, error) {
	claims, err := a.codec.Verify(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	acct, err := a.store.FindByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			a.logger.Info("session references missing account",
				zap.String("account_id", claims.AccountID),
			)
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("refresh session state: %w", err)
	}

	id, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed account id", ErrUnauthenticated)
	}

	return &Session{
		AccountID:          id,
		Email:              claims.Email,
		Name:               claims.Name,
		AvatarURL:          claims.AvatarURL,
		NeedsPasswordSetup: acct.NeedsPasswordSetup,
	}, nil
}
