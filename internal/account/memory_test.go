package account

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &Account{Email: "  Alice@Example.COM ", Name: "Alice", Provider: ProviderCredentials}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == uuid.Nil {
		t.Fatal("expected ID to be assigned")
	}
	if a.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", a.Email)
	}

	got, err := s.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("expected id %s, got %s", a.ID, got.ID)
	}

	byID, err := s.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Fatalf("unexpected email %q", byID.Email)
	}
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, &Account{Email: "bob@example.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, &Account{Email: "BOB@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestMemoryStoreFindMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.FindByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &Account{Email: "carol@example.com", Name: "Carol"}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "Caroline"
	hash := "$2a$12$fakehash"
	updated, err := s.Update(ctx, a.ID, Patch{Name: &name, PasswordHash: &hash})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Caroline" || updated.PasswordHash != hash {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Email != "carol@example.com" {
		t.Fatal("unpatched field changed")
	}
}

func TestMemoryStoreUpdateIfStale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &Account{Email: "dave@example.com", NeedsPasswordSetup: true}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Matching expectation succeeds.
	cleared := false
	hash := "$2a$12$fakehash"
	updated, err := s.UpdateIf(ctx, a.ID,
		Expect{HasPassword: false, NeedsPasswordSetup: true},
		Patch{PasswordHash: &hash, NeedsPasswordSetup: &cleared},
	)
	if err != nil {
		t.Fatalf("UpdateIf: %v", err)
	}
	if updated.NeedsPasswordSetup || !updated.HasPassword() {
		t.Fatalf("transition not applied: %+v", updated)
	}

	// The old expectation is now stale.
	_, err = s.UpdateIf(ctx, a.ID,
		Expect{HasPassword: false, NeedsPasswordSetup: true},
		Patch{NeedsPasswordSetup: &cleared},
	)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &Account{Email: "eve@example.com", Name: "Eve"}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := s.FindByEmail(ctx, "eve@example.com")
	got.Name = "Mallory"

	again, _ := s.FindByEmail(ctx, "eve@example.com")
	if again.Name != "Eve" {
		t.Fatal("store returned a shared pointer; mutation leaked")
	}
}
