package identity

import (
	"context"
	"sync"
	"time"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// MemStore is an in-memory Store. Single-process deployments without a
// DATABASE_URL fall back to it; tests use it directly.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*User
	bindings map[bindingKey]*Binding
	codes    map[codeKey]*VerificationCode
	issued   map[identityKey]time.Time
}

type bindingKey struct {
	provider   Provider
	providerID string
}

type codeKey struct {
	provider   Provider
	providerID string
	purpose    CodePurpose
}

type identityKey struct {
	provider   Provider
	providerID string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nextID:   1,
		users:    make(map[int64]*User),
		bindings: make(map[bindingKey]*Binding),
		codes:    make(map[codeKey]*VerificationCode),
		issued:   make(map[identityKey]time.Time),
	}
}

func (m *MemStore) CreateUserWithBinding(_ context.Context, name string, b Binding, now time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bindingKey{b.Provider, b.ProviderID}
	if _, exists := m.bindings[key]; exists {
		return User{}, apperr.Conflict("binding exists")
	}

	user := User{
		ID:          m.nextID,
		DisplayName: name,
		Status:      StatusActive,
		CreatedAt:   now,
		LastActive:  now,
	}
	m.nextID++
	m.users[user.ID] = &user

	bound := b
	bound.UserID = user.ID
	m.bindings[key] = &bound

	return user, nil
}

func (m *MemStore) UserByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, apperr.NotFound("no such user")
	}
	return *u, nil
}

func (m *MemStore) SetUserStatus(_ context.Context, id int64, status UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("no such user")
	}
	u.Status = status
	return nil
}

func (m *MemStore) TouchLastActive(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastActive = now
	}
	return nil
}

func (m *MemStore) BindingByProvider(_ context.Context, p Provider, providerID string) (Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[bindingKey{p, providerID}]
	if !ok {
		return Binding{}, apperr.NotFound("no such binding")
	}
	return *b, nil
}

func (m *MemStore) RecordLoginFailure(_ context.Context, p Provider, providerID string, threshold int, now, lockedUntil time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[bindingKey{p, providerID}]
	if !ok {
		return 0, apperr.NotFound("no such binding")
	}
	b.FailedAttempts++
	// Re-arm the lock whenever the count is past the threshold and any
	// previous lock has lapsed.
	if b.FailedAttempts >= threshold && (b.LockedUntil == nil || !b.LockedUntil.After(now)) {
		until := lockedUntil
		b.LockedUntil = &until
	}
	return b.FailedAttempts, nil
}

func (m *MemStore) RecordLoginSuccess(_ context.Context, p Provider, providerID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[bindingKey{p, providerID}]
	if !ok {
		return apperr.NotFound("no such binding")
	}
	b.FailedAttempts = 0
	b.LockedUntil = nil
	last := now
	b.LastLogin = &last
	return nil
}

func (m *MemStore) ReplaceCode(_ context.Context, c VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := c
	m.codes[codeKey{c.Provider, c.ProviderID, c.Purpose}] = &code
	m.issued[identityKey{c.Provider, c.ProviderID}] = c.CreatedAt
	return nil
}

func (m *MemStore) LiveCode(_ context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) (VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[codeKey{p, providerID, purpose}]
	if !ok || c.UsedAt != nil || !c.ExpiresAt.After(now) {
		return VerificationCode{}, apperr.NotFound("no live code")
	}
	return *c, nil
}

func (m *MemStore) BumpCodeAttempts(_ context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[codeKey{p, providerID, purpose}]
	if !ok || c.UsedAt != nil || !c.ExpiresAt.After(now) {
		return 0, apperr.NotFound("no live code")
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *MemStore) MarkCodeUsed(_ context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[codeKey{p, providerID, purpose}]
	if !ok || c.UsedAt != nil {
		return apperr.NotFound("no live code")
	}
	used := now
	c.UsedAt = &used
	return nil
}

func (m *MemStore) LastCodeIssuedAt(_ context.Context, p Provider, providerID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.issued[identityKey{p, providerID}]
	if !ok {
		return nil, nil
	}
	issued := t
	return &issued, nil
}
