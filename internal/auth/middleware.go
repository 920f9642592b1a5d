package auth

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

type ctxKey string

const ctxUserID ctxKey = "uid"

// ErrorWriter renders an unauthorized/forbidden response. Injected by the
// HTTP layer so this package does not own the response envelope.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Hook runs after token verification with the resolved user ID. It should
// reject suspended users and touch the caller's session. Returning an error
// refuses the request.
type Hook func(ctx context.Context, userID int64, r *http.Request) error

// Middleware authenticates requests via Bearer access tokens.
// In DevMode an X-Debug-Sub header carrying a numeric user ID is accepted
// when no token is present, mirroring local-dev ergonomics.
func Middleware(cfg TokenCfg, hook Hook, writeErr ErrorWriter) func(http.Handler) http.Handler {
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-Sub header will bypass token authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			var userID int64
			switch {
			case tok != "":
				uid, err := VerifyAccessToken(cfg, tok)
				if err != nil {
					log.Warn().Str("path", r.URL.Path).Msg("access token verification failed")
					writeErr(w, r, err)
					return
				}
				userID = uid
			case cfg.DevMode && r.Header.Get("X-Debug-Sub") != "":
				uid, err := parseUserID(r.Header.Get("X-Debug-Sub"))
				if err != nil {
					writeErr(w, r, err)
					return
				}
				log.Debug().Int64("userId", uid).Msg("using X-Debug-Sub header (dev mode)")
				userID = uid
			default:
				writeErr(w, r, errUnauthorized())
				return
			}

			if hook != nil {
				if err := hook(r.Context(), userID, r); err != nil {
					writeErr(w, r, err)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user ID from request context.
// Returns 0 if not authenticated (should never happen after middleware).
func UserID(ctx context.Context) int64 {
	if v, ok := ctx.Value(ctxUserID).(int64); ok {
		return v
	}
	return 0
}

// WithUserID injects a user ID into ctx; used by tests and internal callers.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func formatUserID(id int64) string { return strconv.FormatInt(id, 10) }

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errUnauthorized()
	}
	return id, nil
}
