package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/chat"
)

type greetingReq struct {
	RecipientID int64  `json:"recipient_id"`
	Body        string `json:"body"`
}

func (s *Server) SendGreeting(w http.ResponseWriter, r *http.Request) {
	var req greetingReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, m, err := s.Chats.SendGreeting(r.Context(), auth.UserID(r.Context()), req.RecipientID, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat": c, "message": m})
}

type respondReq struct {
	ChatID int64 `json:"chat_id"`
	Accept bool  `json:"accept"`
}

func (s *Server) RespondGreeting(w http.ResponseWriter, r *http.Request) {
	var req respondReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chats.RespondGreeting(r.Context(), auth.UserID(r.Context()), req.ChatID, req.Accept)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": c})
}

type messageReq struct {
	ChatID int64  `json:"chat_id"`
	Body   string `json:"body"`
}

func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.Chats.SendMessage(r.Context(), auth.UserID(r.Context()), req.ChatID, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": m})
}

func (s *Server) ListChats(w http.ResponseWriter, r *http.Request) {
	sums, err := s.Chats.ListChats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sums == nil {
		sums = []chat.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": sums})
}

func (s *Server) ListPendingChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.Chats.ListPending(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chats.GetChat(r.Context(), auth.UserID(r.Context()), chatID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": c})
}

// GetMessages pages history newest-first; ?before= continues past the last
// message id of the previous page.
func (s *Server) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var before int64
	if q := r.URL.Query().Get("before"); q != "" {
		if before, err = parseID(q); err != nil {
			writeError(w, r, err)
			return
		}
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 100)

	msgs, err := s.Chats.GetMessages(r.Context(), auth.UserID(r.Context()), chatID, before, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) CloseChat(w http.ResponseWriter, r *http.Request) {
	chatID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chats.Close(r.Context(), auth.UserID(r.Context()), chatID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": c})
}
