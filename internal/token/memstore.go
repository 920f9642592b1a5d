package token

import (
	"context"
	"sync"
	"time"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// MemStore is an in-memory Store for tests and dev fallback.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*RefreshToken
	byHash map[string]int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		rows:   make(map[int64]*RefreshToken),
		byHash: make(map[string]int64),
	}
}

func (m *MemStore) Insert(_ context.Context, t RefreshToken) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(t), nil
}

func (m *MemStore) insertLocked(t RefreshToken) RefreshToken {
	t.ID = m.nextID
	m.nextID++
	row := t
	m.rows[t.ID] = &row
	m.byHash[t.TokenHash] = t.ID
	return row
}

func (m *MemStore) ByHash(_ context.Context, hash string) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[hash]
	if !ok {
		return RefreshToken{}, apperr.NotFound("no such token")
	}
	return *m.rows[id], nil
}

func (m *MemStore) Rotate(_ context.Context, oldID int64, next RefreshToken, now time.Time) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[oldID]
	if !ok {
		return RefreshToken{}, apperr.NotFound("no such token")
	}
	if old.Revoked {
		return RefreshToken{}, apperr.Conflict("token already rotated")
	}
	old.Revoked = true
	used := now
	old.LastUsed = &used
	return m.insertLocked(next), nil
}

func (m *MemStore) Revoke(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperr.NotFound("no such token")
	}
	row.Revoked = true
	return nil
}

func (m *MemStore) RevokeChain(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[id]; !ok {
		return 0, apperr.NotFound("no such token")
	}

	// Walk to the chain root.
	root := id
	for {
		row := m.rows[root]
		if row.ParentToken == nil {
			break
		}
		parent := *row.ParentToken
		if _, ok := m.rows[parent]; !ok {
			break
		}
		root = parent
	}

	// Revoke the root and everything descending from it.
	chain := map[int64]bool{root: true}
	for changed := true; changed; {
		changed = false
		for _, row := range m.rows {
			if row.ParentToken != nil && chain[*row.ParentToken] && !chain[row.ID] {
				chain[row.ID] = true
				changed = true
			}
		}
	}

	n := 0
	for cid := range chain {
		if !m.rows[cid].Revoked {
			m.rows[cid].Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *MemStore) RevokeAllForUser(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.rows {
		if row.UserID == userID && !row.Revoked {
			row.Revoked = true
			n++
		}
	}
	return n, nil
}
