package auth

import (
	"context"
	"sync"
	"time"

	"taskflow.dev/internal/ids"
)

var _ CredentialStore = (*MemoryStore)(nil)

// MemoryStore is an in-process CredentialStore used by tests and by `serve` when no
// database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Principal
	byEmail map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Principal),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	email := NormalizeEmail(p.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return ErrDuplicateIdentifier
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.Email = email
	p.CreatedAt, p.UpdatedAt = now, now
	s.byID[p.ID] = *p
	s.byEmail[email] = p.ID
	return nil
}

func (s *MemoryStore) FindPrincipal(ctx context.Context, id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) FindPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	p := s.byID[id]
	return &p, nil
}

// UpdatePrincipal replaces the mutable fields. ID, email and CreatedAt are kept.
func (s *MemoryStore) UpdatePrincipal(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.FirstName = p.FirstName
	cur.LastName = p.LastName
	cur.PasswordHash = p.PasswordHash
	cur.Role = p.Role
	cur.Enabled = p.Enabled
	cur.UpdatedAt = time.Now().UTC()
	s.byID[p.ID] = cur
	*p = cur
	return nil
}

func (s *MemoryStore) DeletePrincipal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byEmail, p.Email)
	return nil
}
