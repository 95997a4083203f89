package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and dev mode. It holds
// the same contract as PostgresStore, including the UpdateIf compare-and-set.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*Account
	byEmail map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*Account),
		byEmail: make(map[string]uuid.UUID),
	}
}

// Create inserts a new account. Sets ID, CreatedAt, UpdatedAt on the record.
func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(a.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrDuplicateEmail
	}

	a.ID = uuid.New()
	a.Email = email
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	cp := *a
	s.byID[a.ID] = &cp
	s.byEmail[email] = a.ID
	return nil
}

// FindByEmail retrieves an account by its normalized email address.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

// FindByID retrieves an account by its internal UUID.
func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Update applies a partial update and returns the updated account.
func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, p Patch) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(id, nil, p)
}

// UpdateIf applies a partial update only while the stored
// (passwordHash, needsPasswordSetup) pair still matches expect.
func (s *MemoryStore) UpdateIf(_ context.Context, id uuid.UUID, expect Expect, p Patch) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(id, &expect, p)
}

func (s *MemoryStore) applyLocked(id uuid.UUID, expect *Expect, p Patch) (*Account, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if expect != nil {
		if a.HasPassword() != expect.HasPassword || a.NeedsPasswordSetup != expect.NeedsPasswordSetup {
			return nil, ErrStale
		}
	}

	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.AvatarURL != nil {
		a.AvatarURL = *p.AvatarURL
	}
	if p.Provider != nil {
		a.Provider = *p.Provider
	}
	if p.ProviderSubjectID != nil {
		a.ProviderSubjectID = *p.ProviderSubjectID
	}
	if p.EmailVerified != nil {
		a.EmailVerified = *p.EmailVerified
	}
	if p.NeedsPasswordSetup != nil {
		a.NeedsPasswordSetup = *p.NeedsPasswordSetup
	}
	a.UpdatedAt = time.Now().UTC()

	cp := *a
	return &cp, nil
}
