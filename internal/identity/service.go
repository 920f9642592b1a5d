package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/notify"
)

// Config tunes the identity service.
type Config struct {
	CodeTTL         time.Duration // default 10m
	CodeMaxAttempts int           // default 3
	ResendInterval  time.Duration // default 60s per identity
	LockoutAfter    int           // default 5 failed logins
	LockoutFor      time.Duration // default 15m
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	if c.CodeMaxAttempts <= 0 {
		c.CodeMaxAttempts = 3
	}
	if c.ResendInterval <= 0 {
		c.ResendInterval = time.Minute
	}
	if c.LockoutAfter <= 0 {
		c.LockoutAfter = 5
	}
	if c.LockoutFor <= 0 {
		c.LockoutFor = 15 * time.Minute
	}
	return c
}

// Service implements registration, login and code verification.
type Service struct {
	store    Store
	notifier notify.Notifier
	clock    clock.Clock
	cfg      Config
}

// NewService wires the identity service.
func NewService(store Store, notifier notify.Notifier, clk clock.Clock, cfg Config) *Service {
	return &Service{store: store, notifier: notifier, clock: clk, cfg: cfg.withDefaults()}
}

// audit is the security-event logger. Login failures, lockouts and code
// issuance are audit events per the error-handling design.
var audit = log.With().Bool("audit", true).Logger()

func errInvalidCredentials() error {
	// One message for "no such account" and "wrong credential" so responses
	// are indistinguishable to the client.
	return apperr.Unauthorized("invalid credentials")
}

func errCodeInvalid() error {
	return apperr.Invalid("verification code invalid or expired").WithCode("CODE_INVALID")
}

// SendCode issues a fresh verification code for the identity, invalidating
// any prior unused one, and hands it to the out-of-band notifier.
// At most one code per identity per resend interval.
func (s *Service) SendCode(ctx context.Context, p Provider, providerID string, purpose CodePurpose) error {
	if !ValidProvider(p) || providerID == "" {
		return apperr.Invalid("unknown provider or empty identity")
	}
	if !ValidPurpose(purpose) {
		return apperr.Invalid("unknown code purpose")
	}

	now := s.clock.Now()

	last, err := s.store.LastCodeIssuedAt(ctx, p, providerID)
	if err != nil {
		return apperr.Internal(err)
	}
	if last != nil && now.Sub(*last) < s.cfg.ResendInterval {
		return apperr.RateLimited("verification code already sent, retry later")
	}

	code, err := randomCode()
	if err != nil {
		return apperr.Internal(err)
	}

	vc := VerificationCode{
		Provider:    p,
		ProviderID:  providerID,
		CodeHash:    hashCode(code),
		Purpose:     purpose,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.CodeTTL),
		MaxAttempts: s.cfg.CodeMaxAttempts,
	}
	if err := s.store.ReplaceCode(ctx, vc); err != nil {
		return apperr.Internal(err)
	}

	template := "verification_code_" + string(purpose)
	if err := s.notifier.Send(ctx, notify.Message{
		Channel:     channelFor(p),
		Destination: providerID,
		TemplateID:  template,
		Variables:   map[string]string{"code": code},
		RequestID:   vc.CodeHash[:16],
	}); err != nil {
		return apperr.Wrap(apperr.KindUpstreamTimeout, "failed to deliver verification code", err)
	}

	audit.Info().Str("provider", string(p)).Str("purpose", string(purpose)).Msg("verification code issued")
	return nil
}

// VerifyCode consumes the live code for the triple. Each call counts against
// the attempt cap; a match stamps used_at so the code verifies true at most
// once.
func (s *Service) VerifyCode(ctx context.Context, p Provider, providerID, code string, purpose CodePurpose) (bool, error) {
	now := s.clock.Now()

	live, err := s.store.LiveCode(ctx, p, providerID, purpose, now)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, apperr.Internal(err)
	}
	if live.Attempts >= live.MaxAttempts {
		return false, nil
	}

	attempts, err := s.store.BumpCodeAttempts(ctx, p, providerID, purpose, now)
	if err != nil {
		return false, apperr.Internal(err)
	}
	if attempts > live.MaxAttempts {
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(live.CodeHash)) != 1 {
		return false, nil
	}

	if err := s.store.MarkCodeUsed(ctx, p, providerID, purpose, now); err != nil {
		return false, apperr.Internal(err)
	}
	return true, nil
}

// Register creates a user from a verified registration code.
// Password is optional and only meaningful for credential providers.
func (s *Service) Register(ctx context.Context, p Provider, providerID, code, name, password string) (User, error) {
	if !ValidProvider(p) || providerID == "" || name == "" {
		return User{}, apperr.Invalid("provider, identity and name are required")
	}

	if _, err := s.store.BindingByProvider(ctx, p, providerID); err == nil {
		return User{}, apperr.Conflict("identity already registered").WithCode("AUTH_CONFLICT")
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return User{}, apperr.Internal(err)
	}

	ok, err := s.VerifyCode(ctx, p, providerID, code, PurposeRegister)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, errCodeInvalid()
	}

	var passwordHash string
	if password != "" {
		if err := auth.CheckPasswordPolicy(password); err != nil {
			return User{}, err
		}
		passwordHash, err = auth.HashPassword(password)
		if err != nil {
			return User{}, err
		}
	}

	now := s.clock.Now()
	user, err := s.store.CreateUserWithBinding(ctx, name, Binding{
		Provider:     p,
		ProviderID:   providerID,
		PasswordHash: passwordHash,
		Verified:     true,
		Primary:      true,
	}, now)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return User{}, apperr.Conflict("identity already registered").WithCode("AUTH_CONFLICT")
		}
		return User{}, apperr.Internal(err)
	}

	audit.Info().Int64("userId", user.ID).Str("provider", string(p)).Msg("user registered")
	return user, nil
}

// Login authenticates by verification code (phone) or password (email).
// Five consecutive failures lock the binding for the lockout window.
func (s *Service) Login(ctx context.Context, p Provider, providerID, credential string) (User, error) {
	now := s.clock.Now()

	binding, err := s.store.BindingByProvider(ctx, p, providerID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			audit.Warn().Str("provider", string(p)).Msg("login failure: unknown identity")
			return User{}, errInvalidCredentials()
		}
		return User{}, apperr.Internal(err)
	}

	if binding.LockedUntil != nil && binding.LockedUntil.After(now) {
		audit.Warn().Int64("userId", binding.UserID).Msg("login refused: binding locked")
		return User{}, errInvalidCredentials()
	}

	var ok bool
	switch {
	case binding.PasswordHash != "":
		ok = auth.VerifyPassword(binding.PasswordHash, credential)
	default:
		ok, err = s.VerifyCode(ctx, p, providerID, credential, PurposeLogin)
		if err != nil {
			return User{}, err
		}
	}

	if !ok {
		attempts, ferr := s.store.RecordLoginFailure(ctx, p, providerID, s.cfg.LockoutAfter, now, now.Add(s.cfg.LockoutFor))
		if ferr != nil {
			return User{}, apperr.Internal(ferr)
		}
		evt := audit.Warn().Int64("userId", binding.UserID).Int("attempts", attempts)
		if attempts >= s.cfg.LockoutAfter {
			evt.Msg("login failure: binding locked out")
		} else {
			evt.Msg("login failure")
		}
		return User{}, errInvalidCredentials()
	}

	user, err := s.store.UserByID(ctx, binding.UserID)
	if err != nil {
		return User{}, apperr.Internal(err)
	}
	if user.Status != StatusActive {
		audit.Warn().Int64("userId", user.ID).Str("status", string(user.Status)).Msg("login refused: user not active")
		return User{}, apperr.Forbidden("account is not active")
	}

	if err := s.store.RecordLoginSuccess(ctx, p, providerID, now); err != nil {
		return User{}, apperr.Internal(err)
	}
	audit.Info().Int64("userId", user.ID).Str("provider", string(p)).Msg("login success")
	return user, nil
}

// CurrentUser resolves an access-token subject to an active user.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (User, error) {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return User{}, apperr.Unauthorized("unauthorized")
		}
		return User{}, apperr.Internal(err)
	}
	if user.Status != StatusActive {
		return User{}, apperr.Forbidden("account is not active")
	}
	return user, nil
}

// TouchLastActive stamps the user's last_active; failures are non-fatal to
// the request that triggered them.
func (s *Service) TouchLastActive(ctx context.Context, userID int64) {
	if err := s.store.TouchLastActive(ctx, userID, s.clock.Now()); err != nil {
		log.Warn().Err(err).Int64("userId", userID).Msg("failed to touch last_active")
	}
}

func channelFor(p Provider) notify.Channel {
	if p == ProviderEmail {
		return notify.ChannelEmail
	}
	return notify.ChannelSMS
}

// randomCode draws a uniform 6-digit code from crypto/rand.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	code := n.Int64()
	digits := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		digits[i] = byte('0' + code%10)
		code /= 10
	}
	return string(digits), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
