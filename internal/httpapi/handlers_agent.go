package httpapi

import (
	"net/http"

	"github.com/heymatch/heymatch-api/internal/agent"
	"github.com/heymatch/heymatch-api/internal/auth"
)

// Conversation routes one utterance through the intent dispatcher.
func (s *Server) Conversation(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.CallerID = auth.UserID(r.Context())

	reply, err := s.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
