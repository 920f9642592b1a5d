// Package profile is the profile-store collaborator contract: opaque profile
// documents the dispatcher grounds inquiry answers on.
package profile

import (
	"context"
	"sync"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// Doc is one user's profile document.
type Doc struct {
	UserID  int64    `json:"user_id"`
	Name    string   `json:"name"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Store resolves profile documents.
type Store interface {
	Profile(ctx context.Context, userID int64) (Doc, error)
}

// MemStore serves documents from memory.
type MemStore struct {
	mu   sync.RWMutex
	docs map[int64]Doc
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[int64]Doc)}
}

func (s *MemStore) Put(d Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.UserID] = d
}

func (s *MemStore) Profile(_ context.Context, userID int64) (Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[userID]
	if !ok {
		return Doc{}, apperr.NotFound("no such profile")
	}
	return d, nil
}
