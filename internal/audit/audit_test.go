package audit

import (
	"context"
	"testing"
)

func TestMemoryLogStartsAtGenesis(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != GenesisHash {
		t.Fatalf("expected genesis root, got %q", root)
	}
	if err := l.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestMemoryLogAppendChains(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	e1, err := l.Append(ctx, "acct-1", EventRegistered, "", map[string]string{"email": "a@example.com"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.Index != 1 || e1.PrevHash != GenesisHash {
		t.Fatalf("unexpected first entry: %+v", e1)
	}

	e2, err := l.Append(ctx, "acct-1", EventOAuthSignIn, "created", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.PrevHash != e1.Hash {
		t.Fatal("entry not chained to predecessor")
	}

	if err := l.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	root, _ := l.Root(ctx)
	if root != e2.Hash {
		t.Fatal("root is not the chain tip")
	}
}

func TestMemoryLogVerifyDetectsTampering(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	if _, err := l.Append(ctx, "acct-1", EventRegistered, "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(ctx, "acct-1", EventPasswordSetup, "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Rewrite history.
	e, _ := l.Get(ctx, 1)
	e.Event = EventSignedIn

	if err := l.Verify(ctx); err == nil {
		t.Fatal("Verify accepted a tampered chain")
	}
}

func TestMemoryLogGetOutOfRange(t *testing.T) {
	l := NewMemoryLog()
	if _, err := l.Get(context.Background(), 5); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := l.Get(context.Background(), -1); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
