package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tollgate-io/tollgate/internal/account"
	"go.uber.org/zap"
)

const testIssuer = "http://tollgate.test"

func newAuthority(t *testing.T, ttl time.Duration) (*Authority, *account.MemoryStore) {
	t.Helper()
	store := account.NewMemoryStore()
	codec := NewTokenCodec([]byte("test-secret"), testIssuer, ttl)
	return NewAuthority(codec, store, zap.NewNop()), store
}

func TestIssueAndAuthorize(t *testing.T) {
	auth, store := newAuthority(t, time.Hour)
	ctx := context.Background()

	a := &account.Account{Email: "alice@example.com", Name: "Alice", PasswordHash: "$2a$12$h"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tok, err := auth.Issue(a)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	sess, err := auth.Authorize(ctx, tok)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if sess.AccountID != a.ID || sess.Email != "alice@example.com" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.NeedsPasswordSetup {
		t.Fatal("flag should be false for a settled account")
	}
}

func TestAuthorizeRederivesProvisioningFlag(t *testing.T) {
	auth, store := newAuthority(t, time.Hour)
	ctx := context.Background()

	a := &account.Account{Email: "bob@example.com", NeedsPasswordSetup: true}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The token carries flag=true from issuance.
	tok, err := auth.Issue(a)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Another device sets the password; the stored flag clears.
	cleared := false
	hash := "$2a$12$h"
	if _, err := store.Update(ctx, a.ID, account.Patch{PasswordHash: &hash, NeedsPasswordSetup: &cleared}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The stale token snapshot must lose to the fresh store read.
	sess, err := auth.Authorize(ctx, tok)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if sess.NeedsPasswordSetup {
		t.Fatal("Authorize trusted the token snapshot over stored state")
	}
}

func TestAuthorizeRejectsGarbage(t *testing.T) {
	auth, _ := newAuthority(t, time.Hour)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := auth.Authorize(context.Background(), tok); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("token %q: expected ErrUnauthenticated, got %v", tok, err)
		}
	}
}

func TestAuthorizeRejectsExpiredToken(t *testing.T) {
	auth, store := newAuthority(t, -time.Minute)
	ctx := context.Background()

	a := &account.Account{Email: "carol@example.com"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tok, err := auth.Issue(a)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := auth.Authorize(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestAuthorizeRejectsWrongSecret(t *testing.T) {
	auth, store := newAuthority(t, time.Hour)
	ctx := context.Background()

	a := &account.Account{Email: "dave@example.com"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	forged := NewTokenCodec([]byte("other-secret"), testIssuer, time.Hour)
	tok, err := forged.Sign(a.ID.String(), a.Email, a.Name, "", false)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := auth.Authorize(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for forged token, got %v", err)
	}
}

func TestAuthorizeMissingAccount(t *testing.T) {
	auth, store := newAuthority(t, time.Hour)
	ctx := context.Background()

	a := &account.Account{Email: "gone@example.com"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tok, err := auth.Issue(a)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Simulate deletion by pointing the authority at an empty store.
	auth2 := NewAuthority(auth.Codec(), account.NewMemoryStore(), zap.NewNop())
	if _, err := auth2.Authorize(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for vanished account, got %v", err)
	}
}

func TestOAuthStateRoundTrip(t *testing.T) {
	codec := NewTokenCodec([]byte("test-secret"), testIssuer, time.Hour)

	state, err := codec.SignOAuthState("google")
	if err != nil {
		t.Fatalf("SignOAuthState: %v", err)
	}
	provider, err := codec.VerifyOAuthState(state)
	if err != nil {
		t.Fatalf("VerifyOAuthState: %v", err)
	}
	if provider != "google" {
		t.Fatalf("expected google, got %q", provider)
	}

	// A session token must not pass as OAuth state and vice versa.
	sess, err := codec.Sign("id", "a@example.com", "A", "", false)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := codec.VerifyOAuthState(sess); err == nil {
		t.Fatal("session token accepted as oauth state")
	}
	if _, err := codec.Verify(state); err == nil {
		t.Fatal("oauth state accepted as session token")
	}
}

func TestRequiresPasswordSetup(t *testing.T) {
	if RequiresPasswordSetup(nil) {
		t.Fatal("nil session cannot require setup")
	}
	if RequiresPasswordSetup(&Session{}) {
		t.Fatal("settled session must not require setup")
	}
	if !RequiresPasswordSetup(&Session{NeedsPasswordSetup: true}) {
		t.Fatal("provisional session must require setup")
	}
}
