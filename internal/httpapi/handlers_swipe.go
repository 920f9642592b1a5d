package httpapi

import (
	"net/http"

	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/quota"
	"github.com/heymatch/heymatch-api/internal/swipe"
)

type swipeReq struct {
	TargetID  int64           `json:"target_id"`
	Direction swipe.Direction `json:"direction"`
}

// CreateSwipe consumes swipe quota then records the swipe, mirroring the
// admission pipeline: quota denial (429) happens before, and distinctly
// from, a duplicate (409).
func (s *Server) CreateSwipe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	var req swipeReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.Quota.Consume(r.Context(), userID, quota.ActionSwipe, 1); err != nil {
		s.Metrics.QuotaDenied.WithLabelValues(string(quota.ActionSwipe)).Inc()
		writeError(w, r, err)
		return
	}

	res, err := s.Swipes.Swipe(r.Context(), userID, req.TargetID, req.Direction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) Mutuals(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Swipes.MutualPairs(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_ids": ids})
}
