// Package chat implements the two-phase messaging handshake: a greeting opens
// a chat in pending_greeting, the responder accepts or rejects, and only an
// accepted chat carries further messages.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
)

// State of a chat.
type State string

const (
	StatePendingGreeting State = "pending_greeting"
	StateActive          State = "active"
	StateRejected        State = "rejected"
	StateClosed          State = "closed"
)

// MaxBodyLength caps a single message body.
const MaxBodyLength = 2000

// Chat is one conversation row. At most one chat per unordered user pair may
// be in pending_greeting or active at a time; rejected and closed rows pile up
// as history.
type Chat struct {
	ID            int64      `json:"id"`
	InitiatorID   int64      `json:"initiator_id"`
	ResponderID   int64      `json:"responder_id"`
	State         State      `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// HasParty reports whether userID is a side of the chat.
func (c Chat) HasParty(userID int64) bool {
	return c.InitiatorID == userID || c.ResponderID == userID
}

// Message is one chat message. ReadAt stays nil until the other party fetches
// the history.
type Message struct {
	ID         int64      `json:"id"`
	ChatID     int64      `json:"chat_id"`
	SenderID   int64      `json:"sender_id"`
	Body       string     `json:"body"`
	IsGreeting bool       `json:"is_greeting"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// Summary is a chat plus its inbox decoration.
type Summary struct {
	Chat        Chat     `json:"chat"`
	LastMessage *Message `json:"last_message,omitempty"`
	Unread      int      `json:"unread"`
}

// Store persists chats and messages. Implementations must serialize state
// transitions per chat: of two concurrent Transition calls exactly one wins.
type Store interface {
	// CreateWithGreeting inserts the chat and its greeting message in one
	// step; Conflict when a pending or active chat already exists for the
	// unordered pair.
	CreateWithGreeting(ctx context.Context, c Chat, greeting Message) (Chat, Message, error)
	Get(ctx context.Context, chatID int64) (Chat, bool, error)
	// Transition moves chatID from 'from' to 'to'; ok=false when the chat was
	// not in 'from' (the caller lost the race or the state never matched).
	Transition(ctx context.Context, chatID int64, from, to State) (Chat, bool, error)
	// Append adds a message to an active chat and bumps last_message_at; a
	// chat in any other state yields Conflict.
	Append(ctx context.Context, m Message) (Message, error)
	ListPending(ctx context.Context, userID int64) ([]Chat, error)
	ListSummaries(ctx context.Context, userID int64) ([]Summary, error)
	// Messages pages backwards: messages with id < beforeID, newest first.
	// beforeID <= 0 means start from the latest.
	Messages(ctx context.Context, chatID int64, beforeID int64, limit int) ([]Message, error)
	// MarkRead stamps read_at on messages in chatID not authored by readerID.
	MarkRead(ctx context.Context, chatID, readerID int64, now time.Time) (int, error)
}

// LikeChecker answers whether a like edge exists; backed by the swipe store.
type LikeChecker interface {
	Liked(ctx context.Context, swiperID, targetID int64) (bool, error)
}

// Service runs the handshake state machine.
type Service struct {
	store Store
	likes LikeChecker
	clock clock.Clock
}

func NewService(store Store, likes LikeChecker, clk clock.Clock) *Service {
	return &Service{store: store, likes: likes, clock: clk}
}

func errStateInvalid(msg string) *apperr.Error {
	return apperr.Conflict(msg).WithCode("STATE_INVALID")
}

func checkBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.Invalid("message body is empty")
	}
	if len(body) > MaxBodyLength {
		return "", apperr.Invalid("message body too long")
	}
	return body, nil
}

// SendGreeting opens a chat. The sender must already have liked the
// recipient, and no chat for the pair may be pending or active.
func (s *Service) SendGreeting(ctx context.Context, senderID, recipientID int64, body string) (Chat, Message, error) {
	if senderID == recipientID {
		return Chat{}, Message{}, apperr.Invalid("cannot greet yourself")
	}
	body, err := checkBody(body)
	if err != nil {
		return Chat{}, Message{}, err
	}

	liked, err := s.likes.Liked(ctx, senderID, recipientID)
	if err != nil {
		return Chat{}, Message{}, err
	}
	if !liked {
		return Chat{}, Message{}, errStateInvalid("greeting requires a prior like")
	}

	now := s.clock.Now()
	c := Chat{InitiatorID: senderID, ResponderID: recipientID, State: StatePendingGreeting, CreatedAt: now}
	g := Message{SenderID: senderID, Body: body, IsGreeting: true, CreatedAt: now}
	c, g, err = s.store.CreateWithGreeting(ctx, c, g)
	if err != nil {
		return Chat{}, Message{}, err
	}
	log.Info().Int64("chatId", c.ID).Int64("sender", senderID).Int64("recipient", recipientID).Msg("greeting sent")
	return c, g, nil
}

// RespondGreeting accepts or rejects a pending greeting. Only the responder
// may answer; concurrent responses serialize with a single winner.
func (s *Service) RespondGreeting(ctx context.Context, responderID, chatID int64, accept bool) (Chat, error) {
	c, ok, err := s.store.Get(ctx, chatID)
	if err != nil {
		return Chat{}, apperr.Internal(err)
	}
	if !ok {
		return Chat{}, apperr.NotFound("no such chat")
	}
	if c.ResponderID != responderID {
		return Chat{}, apperr.Forbidden("not the responder of this chat")
	}

	to := StateActive
	if !accept {
		to = StateRejected
	}
	c, won, err := s.store.Transition(ctx, chatID, StatePendingGreeting, to)
	if err != nil {
		return Chat{}, apperr.Internal(err)
	}
	if !won {
		return Chat{}, errStateInvalid("greeting already answered")
	}
	log.Info().Int64("chatId", chatID).Bool("accepted", accept).Msg("greeting answered")
	return c, nil
}

// SendMessage appends to an active chat.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID int64, body string) (Message, error) {
	body, err := checkBody(body)
	if err != nil {
		return Message{}, err
	}

	c, ok, err := s.store.Get(ctx, chatID)
	if err != nil {
		return Message{}, apperr.Internal(err)
	}
	if !ok {
		return Message{}, apperr.NotFound("no such chat")
	}
	if !c.HasParty(senderID) {
		return Message{}, apperr.Forbidden("not a party to this chat")
	}
	if c.State != StateActive {
		return Message{}, errStateInvalid("chat is not active")
	}

	m := Message{ChatID: chatID, SenderID: senderID, Body: body, CreatedAt: s.clock.Now()}
	return s.store.Append(ctx, m)
}

// Close ends an active chat. Either party may close.
func (s *Service) Close(ctx context.Context, userID, chatID int64) (Chat, error) {
	c, ok, err := s.store.Get(ctx, chatID)
	if err != nil {
		return Chat{}, apperr.Internal(err)
	}
	if !ok {
		return Chat{}, apperr.NotFound("no such chat")
	}
	if !c.HasParty(userID) {
		return Chat{}, apperr.Forbidden("not a party to this chat")
	}
	c, won, err := s.store.Transition(ctx, chatID, StateActive, StateClosed)
	if err != nil {
		return Chat{}, apperr.Internal(err)
	}
	if !won {
		return Chat{}, errStateInvalid("chat is not active")
	}
	return c, nil
}

// ListPending returns greetings awaiting the user's answer.
func (s *Service) ListPending(ctx context.Context, userID int64) ([]Chat, error) {
	chats, err := s.store.ListPending(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return chats, nil
}

// ListChats returns the user's inbox with previews and unread counts.
func (s *Service) ListChats(ctx context.Context, userID int64) ([]Summary, error) {
	sums, err := s.store.ListSummaries(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return sums, nil
}

// GetChat returns one chat the user is party to.
func (s *Service) GetChat(ctx context.Context, userID, chatID int64) (Chat, error) {
	c, ok, err := s.store.Get(ctx, chatID)
	if err != nil {
		return Chat{}, apperr.Internal(err)
	}
	if !ok {
		return Chat{}, apperr.NotFound("no such chat")
	}
	if !c.HasParty(userID) {
		return Chat{}, apperr.Forbidden("not a party to this chat")
	}
	return c, nil
}

// GetMessages pages history newest-first and marks the other party's
// messages as read.
func (s *Service) GetMessages(ctx context.Context, userID, chatID, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	c, ok, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.NotFound("no such chat")
	}
	if !c.HasParty(userID) {
		return nil, apperr.Forbidden("not a party to this chat")
	}

	msgs, err := s.store.Messages(ctx, chatID, beforeID, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if _, err := s.store.MarkRead(ctx, chatID, userID, s.clock.Now()); err != nil {
		return nil, apperr.Internal(err)
	}
	return msgs, nil
}
