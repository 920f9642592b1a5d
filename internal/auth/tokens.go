// Package auth issues and verifies the stateless access tokens and hashes
// user passwords. Refresh tokens live in internal/token; this package only
// deals with credentials that are never stored server-side.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// TokenCfg holds access-token signing configuration.
type TokenCfg struct {
	HS256Secret string
	AccessTTL   time.Duration // default 30m
	DevMode     bool          // Allow X-Debug-Sub header (DANGEROUS: only for local dev)
}

const tokenTypeAccess = "access"

// AccessClaims is the payload carried by an access token.
type AccessClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs a short-lived access token for userID.
func IssueAccessToken(cfg TokenCfg, userID int64, now time.Time) (string, time.Time, error) {
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	expires := now.Add(ttl)

	claims := AccessClaims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatUserID(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(cfg.HS256Secret))
	if err != nil {
		return "", time.Time{}, apperr.Internal(err)
	}
	return signed, expires, nil
}

func errUnauthorized() error { return apperr.Unauthorized("unauthorized") }

// VerifyAccessToken validates signature, expiry and token type, returning
// the bound user ID.
func VerifyAccessToken(cfg TokenCfg, raw string) (int64, error) {
	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.HS256Secret), nil
	})
	if err != nil || !tok.Valid {
		return 0, apperr.Unauthorized("invalid or expired token")
	}
	if claims.TokenType != tokenTypeAccess {
		return 0, apperr.Unauthorized("invalid or expired token")
	}
	userID, err := parseUserID(claims.Subject)
	if err != nil {
		return 0, apperr.Unauthorized("invalid or expired token")
	}
	return userID, nil
}
