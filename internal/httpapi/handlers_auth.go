package httpapi

import (
	"net/http"
	"time"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/identity"
	"github.com/heymatch/heymatch-api/internal/ratelimit"
)

type tokenPair struct {
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// issuePair mints the access/refresh pair for a login-shaped event and opens
// the device session.
func (s *Server) issuePair(r *http.Request, userID int64) (tokenPair, error) {
	access, accessExp, err := auth.IssueAccessToken(s.TokenCfg, userID, s.Clock.Now())
	if err != nil {
		return tokenPair{}, err
	}
	refresh, row, err := s.Tokens.Issue(r.Context(), userID, device(r))
	if err != nil {
		return tokenPair{}, err
	}
	s.Sessions.Open(userID, device(r), clientIP(r))
	return tokenPair{
		TokenType:        "Bearer",
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: row.ExpiresAt,
	}, nil
}

type sendCodeReq struct {
	Provider   identity.Provider    `json:"provider"`
	ProviderID string               `json:"provider_id"`
	Purpose    identity.CodePurpose `json:"purpose"`
}

// SendCode issues a one-time verification code. On top of the per-IP class
// limit on the route, one code per identity per minute.
func (s *Server) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	idKey := string(req.Provider) + ":" + req.ProviderID
	if d, err := s.Limiter.Allow(r.Context(), ratelimit.ClassSendCodeperID, idKey); err == nil && !d.Allowed {
		s.Metrics.RateLimitDenied.WithLabelValues(string(ratelimit.ClassSendCodeperID)).Inc()
		writeError(w, r, apperr.RateLimited("code already sent, retry later"))
		return
	}

	if err := s.Identity.SendCode(r.Context(), req.Provider, req.ProviderID, req.Purpose); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type verifyReq struct {
	Provider   identity.Provider    `json:"provider"`
	ProviderID string               `json:"provider_id"`
	Code       string               `json:"code"`
	Purpose    identity.CodePurpose `json:"purpose"`
}

// Verify consumes a code outside the register/login flows (e.g. reset).
func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := s.Identity.VerifyCode(r.Context(), req.Provider, req.ProviderID, req.Code, req.Purpose)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, apperr.Invalid("verification code invalid or expired").WithCode("CODE_INVALID"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

type registerReq struct {
	Provider   identity.Provider `json:"provider"`
	ProviderID string            `json:"provider_id"`
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	Password   string            `json:"password,omitempty"`
}

type authResp struct {
	User   identity.User `json:"user"`
	Tokens tokenPair     `json:"tokens"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.Identity.Register(r.Context(), req.Provider, req.ProviderID, req.Code, req.Name, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := s.issuePair(r, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResp{User: user, Tokens: pair})
}

type loginReq struct {
	Provider   identity.Provider `json:"provider"`
	ProviderID string            `json:"provider_id"`
	Credential string            `json:"credential"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.Identity.Login(r.Context(), req.Provider, req.ProviderID, req.Credential)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := s.issuePair(r, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResp{User: user, Tokens: pair})
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates the presented refresh token and mints a new access token.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	nextRaw, row, err := s.Tokens.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	access, accessExp, err := auth.IssueAccessToken(s.TokenCfg, row.UserID, s.Clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Sessions.Touch(row.UserID, row.Device, clientIP(r))
	writeJSON(w, http.StatusOK, tokenPair{
		TokenType:        "Bearer",
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: row.ExpiresAt,
	})
}

// Logout revokes the presented refresh token; idempotent.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// LogoutAll revokes every refresh token and closes every session of the
// caller.
func (s *Server) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := s.Tokens.RevokeAllForUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	closed := s.Sessions.CloseAll(userID)
	writeJSON(w, http.StatusOK, map[string]int{"sessions_closed": closed})
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	user, err := s.Identity.CurrentUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) MySessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.Sessions.ForUser(auth.UserID(r.Context())),
	})
}

func (s *Server) MyQuota(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Quota.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) MyMembership(w http.ResponseWriter, r *http.Request) {
	m, err := s.Membership.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
