package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// PGStore persists chats in Postgres. The one-live-chat-per-pair rule is a
// partial unique index on the normalized pair for rows in pending_greeting or
// active; transitions are conditional single-row updates, so concurrent
// responders race on the WHERE clause and exactly one wins.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CreateWithGreeting(ctx context.Context, c Chat, greeting Message) (Chat, Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Chat{}, Message{}, fmt.Errorf("begin greeting: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO chats (initiator_id, responder_id, state, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, c.InitiatorID, c.ResponderID, c.State, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Chat{}, Message{}, apperr.Conflict("a chat already exists for this pair")
		}
		return Chat{}, Message{}, fmt.Errorf("insert chat: %w", err)
	}
	c.LastMessageAt = &c.CreatedAt

	greeting.ChatID = c.ID
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages (chat_id, sender_id, body, is_greeting, created_at)
		VALUES ($1, $2, $3, true, $4)
		RETURNING id
	`, greeting.ChatID, greeting.SenderID, greeting.Body, greeting.CreatedAt).Scan(&greeting.ID)
	if err != nil {
		return Chat{}, Message{}, fmt.Errorf("insert greeting: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, Message{}, fmt.Errorf("commit greeting: %w", err)
	}
	return c, greeting, nil
}

const chatColumns = `id, initiator_id, responder_id, state, created_at, last_message_at`

func scanChat(row pgx.Row) (Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.InitiatorID, &c.ResponderID, &c.State, &c.CreatedAt, &c.LastMessageAt)
	return c, err
}

func (s *PGStore) Get(ctx context.Context, chatID int64) (Chat, bool, error) {
	c, err := scanChat(s.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, chatID))
	if err == pgx.ErrNoRows {
		return Chat{}, false, nil
	}
	if err != nil {
		return Chat{}, false, fmt.Errorf("get chat: %w", err)
	}
	return c, true, nil
}

func (s *PGStore) Transition(ctx context.Context, chatID int64, from, to State) (Chat, bool, error) {
	c, err := scanChat(s.pool.QueryRow(ctx, `
		UPDATE chats SET state = $3 WHERE id = $1 AND state = $2
		RETURNING `+chatColumns+`
	`, chatID, from, to))
	if err == pgx.ErrNoRows {
		return Chat{}, false, nil
	}
	if err != nil {
		return Chat{}, false, fmt.Errorf("transition chat: %w", err)
	}
	return c, true, nil
}

func (s *PGStore) Append(ctx context.Context, m Message) (Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the chat row so the state check and the append are one step with
	// respect to concurrent transitions.
	var state State
	err = tx.QueryRow(ctx, `SELECT state FROM chats WHERE id = $1 FOR UPDATE`, m.ChatID).Scan(&state)
	if err == pgx.ErrNoRows {
		return Message{}, apperr.NotFound("no such chat")
	}
	if err != nil {
		return Message{}, fmt.Errorf("lock chat: %w", err)
	}
	if state != StateActive {
		return Message{}, apperr.Conflict("chat is not active").WithCode("STATE_INVALID")
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages (chat_id, sender_id, body, is_greeting, created_at)
		VALUES ($1, $2, $3, false, $4)
		RETURNING id
	`, m.ChatID, m.SenderID, m.Body, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE chats SET last_message_at = $2 WHERE id = $1`, m.ChatID, m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("bump last_message_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit append: %w", err)
	}
	return m, nil
}

func (s *PGStore) ListPending(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE responder_id = $1 AND state = 'pending_greeting'
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) ListSummaries(ctx context.Context, userID int64) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.initiator_id, c.responder_id, c.state, c.created_at, c.last_message_at,
			lm.id, lm.sender_id, lm.body, lm.is_greeting, lm.created_at, lm.read_at,
			(SELECT COUNT(*) FROM chat_messages u
			 WHERE u.chat_id = c.id AND u.sender_id <> $1 AND u.read_at IS NULL)
		FROM chats c
		LEFT JOIN LATERAL (
			SELECT id, sender_id, body, is_greeting, created_at, read_at
			FROM chat_messages WHERE chat_id = c.id
			ORDER BY created_at DESC, id DESC LIMIT 1
		) lm ON true
		WHERE c.initiator_id = $1 OR c.responder_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var (
			msgID      *int64
			senderID   *int64
			body       *string
			isGreeting *bool
			createdAt  *time.Time
			readAt     *time.Time
		)
		err := rows.Scan(
			&sum.Chat.ID, &sum.Chat.InitiatorID, &sum.Chat.ResponderID, &sum.Chat.State,
			&sum.Chat.CreatedAt, &sum.Chat.LastMessageAt,
			&msgID, &senderID, &body, &isGreeting, &createdAt, &readAt,
			&sum.Unread,
		)
		if err != nil {
			return nil, err
		}
		if msgID != nil {
			sum.LastMessage = &Message{
				ID: *msgID, ChatID: sum.Chat.ID, SenderID: *senderID,
				Body: *body, IsGreeting: *isGreeting, CreatedAt: *createdAt, ReadAt: readAt,
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *PGStore) Messages(ctx context.Context, chatID int64, beforeID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, body, is_greeting, created_at, read_at
		FROM chat_messages
		WHERE chat_id = $1 AND ($2 <= 0 OR id < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, chatID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.IsGreeting, &m.CreatedAt, &m.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkRead(ctx context.Context, chatID, readerID int64, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET read_at = $3
		WHERE chat_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, chatID, readerID, now)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
