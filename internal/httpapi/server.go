// Package httpapi is the HTTP surface: routing, middleware ordering and the
// JSON contracts over the domain services.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/agent"
	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/billing"
	"github.com/heymatch/heymatch-api/internal/chat"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/identity"
	"github.com/heymatch/heymatch-api/internal/membership"
	"github.com/heymatch/heymatch-api/internal/metrics"
	"github.com/heymatch/heymatch-api/internal/quota"
	"github.com/heymatch/heymatch-api/internal/ratelimit"
	"github.com/heymatch/heymatch-api/internal/session"
	"github.com/heymatch/heymatch-api/internal/swipe"
	"github.com/heymatch/heymatch-api/internal/token"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	TokenCfg   auth.TokenCfg
	Clock      clock.Clock
	Identity   *identity.Service
	Tokens     *token.Ledger
	Sessions   *session.Tracker
	Limiter    *ratelimit.Limiter
	Quota      *quota.Engine
	Membership *membership.Ledger
	Swipes     *swipe.Service
	Chats      *chat.Service
	Billing    *billing.Service
	Dispatcher *agent.Dispatcher
	Metrics    *metrics.Metrics
}

// authHook runs after token verification: refuse non-active accounts and
// refresh presence for the calling device.
func (s *Server) authHook(ctx context.Context, userID int64, r *http.Request) error {
	if _, err := s.Identity.CurrentUser(ctx, userID); err != nil {
		return err
	}
	s.Sessions.Touch(userID, device(r), clientIP(r))
	s.Identity.TouchLastActive(ctx, userID)
	return nil
}

func device(r *http.Request) string {
	if d := r.Header.Get("X-Device"); d != "" {
		return d
	}
	return r.UserAgent()
}

// Routes creates the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(s.Instrument)
	r.Use(s.AbuseGate)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	// Auth endpoints: unauthenticated, strictly rate limited.
	r.Group(func(r chi.Router) {
		r.With(s.Limit(ratelimit.ClassSendCode, true)).Post("/auth/send-code", s.SendCode)
		r.With(s.Limit(ratelimit.ClassRegister, true)).Post("/auth/register", s.Register)
		r.With(s.Limit(ratelimit.ClassLogin, true)).Post("/auth/login", s.Login)
		r.With(s.Limit(ratelimit.ClassVerifyCode, true)).Post("/auth/verify", s.Verify)
		r.Post("/auth/refresh", s.Refresh)
		r.Post("/auth/logout", s.Logout)
	})

	// Provider webhooks authenticate by signature, not by bearer token.
	r.Post("/payments/webhooks/{method}", s.PaymentWebhook)

	// Everything else requires an access token.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.TokenCfg, s.authHook, writeError))

		r.Get("/me", s.Me)
		r.Get("/me/sessions", s.MySessions)
		r.Get("/me/quota", s.MyQuota)
		r.Get("/me/membership", s.MyMembership)
		r.Post("/auth/logout-all", s.LogoutAll)

		r.Post("/swipes", s.CreateSwipe)
		r.Get("/swipes/mutuals", s.Mutuals)

		r.Post("/chats/greeting", s.SendGreeting)
		r.Post("/chats/greeting/respond", s.RespondGreeting)
		r.Post("/chats/message", s.SendMessage)
		r.Get("/chats", s.ListChats)
		r.Get("/chats/pending", s.ListPendingChats)
		r.Get("/chats/{id}", s.GetChat)
		r.Get("/chats/{id}/messages", s.GetMessages)
		r.Post("/chats/{id}/close", s.CloseChat)

		r.Post("/payments/orders", s.CreateOrder)
		r.Get("/payments/orders", s.ListOrders)
		r.Get("/payments/orders/{id}", s.GetOrder)

		r.Post("/agent/conversation", s.Conversation)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
