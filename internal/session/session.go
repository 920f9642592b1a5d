// Package session tracks active device sessions for presence ("online
// users") and auditing. The tracker is memory-resident with a periodic
// sweeper; it is deliberately not authoritative state.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/clock"
)

// Session is one device session.
type Session struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Device       string    `json:"device"`
	IP           string    `json:"ip"`
	Active       bool      `json:"active"`
}

// Config tunes the tracker.
type Config struct {
	IdleWindow time.Duration // presence window, default 15m
	HardExpiry time.Duration // absolute session lifetime, default 7d
}

// Tracker manages active sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byDevice map[deviceKey]string // (user, device) -> session id
	clock    clock.Clock
	idle     time.Duration
	hard     time.Duration
}

type deviceKey struct {
	userID int64
	device string
}

// NewTracker creates a tracker with the given windows.
func NewTracker(clk clock.Clock, cfg Config) *Tracker {
	idle := cfg.IdleWindow
	if idle <= 0 {
		idle = 15 * time.Minute
	}
	hard := cfg.HardExpiry
	if hard <= 0 {
		hard = 7 * 24 * time.Hour
	}
	return &Tracker{
		sessions: make(map[string]*Session),
		byDevice: make(map[deviceKey]string),
		clock:    clk,
		idle:     idle,
		hard:     hard,
	}
}

// Open starts a session at login.
func (t *Tracker) Open(userID int64, device, ip string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	s := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(t.hard),
		Device:       device,
		IP:           ip,
		Active:       true,
	}
	t.sessions[s.ID] = s
	t.byDevice[deviceKey{userID, device}] = s.ID
	return *s
}

// Touch updates last_activity for the user's session on this device,
// opening one lazily when missing. Called on every authenticated request.
func (t *Tracker) Touch(userID int64, device, ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if id, ok := t.byDevice[deviceKey{userID, device}]; ok {
		if s, ok := t.sessions[id]; ok && s.Active && now.Before(s.ExpiresAt) {
			s.LastActivity = now
			return
		}
	}

	s := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(t.hard),
		Device:       device,
		IP:           ip,
		Active:       true,
	}
	t.sessions[s.ID] = s
	t.byDevice[deviceKey{userID, device}] = s.ID
}

// ForUser returns the user's active sessions.
func (t *Tracker) ForUser(userID int64) []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Session
	for _, s := range t.sessions {
		if s.UserID == userID && s.Active {
			out = append(out, *s)
		}
	}
	return out
}

// Close ends a session by id.
func (t *Tracker) Close(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok || !s.Active {
		return false
	}
	s.Active = false
	return true
}

// CloseAll ends every session of a user (logout-all, account wipe).
func (t *Tracker) CloseAll(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.sessions {
		if s.UserID == userID && s.Active {
			s.Active = false
			n++
		}
	}
	return n
}

// OnlineCount counts distinct users with activity inside the idle window.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.clock.Now().Add(-t.idle)
	seen := make(map[int64]bool)
	for _, s := range t.sessions {
		if s.Active && !s.LastActivity.Before(cutoff) {
			seen[s.UserID] = true
		}
	}
	return len(seen)
}

// Sweep deactivates hard-expired and long-idle sessions and drops inactive
// rows. Idempotent; safe to call concurrently with request traffic.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	idleCutoff := now.Add(-t.hard)
	n := 0
	for id, s := range t.sessions {
		if s.Active && (now.After(s.ExpiresAt) || s.LastActivity.Before(idleCutoff)) {
			s.Active = false
			n++
		}
		if !s.Active {
			delete(t.sessions, id)
			if t.byDevice[deviceKey{s.UserID, s.Device}] == id {
				delete(t.byDevice, deviceKey{s.UserID, s.Device})
			}
		}
	}
	return n
}

// RunSweeper sweeps on the interval until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("session sweep")
			}
		}
	}
}
