package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// MemStore keeps chats and messages in memory behind one mutex, which gives
// the per-chat serialization the Store contract requires for free.
type MemStore struct {
	mu       sync.Mutex
	chats    map[int64]Chat
	messages map[int64][]Message // chatID → append order
	nextChat int64
	nextMsg  int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		chats:    make(map[int64]Chat),
		messages: make(map[int64][]Message),
		nextChat: 1,
		nextMsg:  1,
	}
}

func pairKeyMatch(c Chat, a, b int64) bool {
	return (c.InitiatorID == a && c.ResponderID == b) || (c.InitiatorID == b && c.ResponderID == a)
}

func (s *MemStore) CreateWithGreeting(_ context.Context, c Chat, greeting Message) (Chat, Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chats {
		if pairKeyMatch(existing, c.InitiatorID, c.ResponderID) &&
			(existing.State == StatePendingGreeting || existing.State == StateActive) {
			return Chat{}, Message{}, apperr.Conflict("a chat already exists for this pair")
		}
	}

	c.ID = s.nextChat
	s.nextChat++
	s.chats[c.ID] = c

	greeting.ID = s.nextMsg
	s.nextMsg++
	greeting.ChatID = c.ID
	s.messages[c.ID] = append(s.messages[c.ID], greeting)
	return c, greeting, nil
}

func (s *MemStore) Get(_ context.Context, chatID int64) (Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return c, ok, nil
}

func (s *MemStore) Transition(_ context.Context, chatID int64, from, to State) (Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.State != from {
		return Chat{}, false, nil
	}
	c.State = to
	s.chats[chatID] = c
	return c, true, nil
}

func (s *MemStore) Append(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[m.ChatID]
	if !ok || c.State != StateActive {
		return Message{}, apperr.Conflict("chat is not active").WithCode("STATE_INVALID")
	}
	m.ID = s.nextMsg
	s.nextMsg++
	s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	at := m.CreatedAt
	c.LastMessageAt = &at
	s.chats[m.ChatID] = c
	return m, nil
}

func (s *MemStore) ListPending(_ context.Context, userID int64) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Chat
	for _, c := range s.chats {
		if c.ResponderID == userID && c.State == StatePendingGreeting {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListSummaries(_ context.Context, userID int64) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Summary
	for _, c := range s.chats {
		if !c.HasParty(userID) {
			continue
		}
		sum := Summary{Chat: c}
		msgs := s.messages[c.ID]
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMessage = &last
		}
		for _, m := range msgs {
			if m.SenderID != userID && m.ReadAt == nil {
				sum.Unread++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return lastActivity(out[i].Chat).After(lastActivity(out[j].Chat))
	})
	return out, nil
}

func lastActivity(c Chat) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (s *MemStore) Messages(_ context.Context, chatID int64, beforeID int64, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	var out []Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeID > 0 && msgs[i].ID >= beforeID {
			continue
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

func (s *MemStore) MarkRead(_ context.Context, chatID, readerID int64, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	n := 0
	for i := range msgs {
		if msgs[i].SenderID != readerID && msgs[i].ReadAt == nil {
			at := now
			msgs[i].ReadAt = &at
			n++
		}
	}
	return n, nil
}
