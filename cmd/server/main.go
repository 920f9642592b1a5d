package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/agent"
	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/billing"
	"github.com/heymatch/heymatch-api/internal/chat"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/config"
	"github.com/heymatch/heymatch-api/internal/db"
	"github.com/heymatch/heymatch-api/internal/httpapi"
	"github.com/heymatch/heymatch-api/internal/identity"
	"github.com/heymatch/heymatch-api/internal/membership"
	"github.com/heymatch/heymatch-api/internal/metrics"
	"github.com/heymatch/heymatch-api/internal/notify"
	"github.com/heymatch/heymatch-api/internal/profile"
	"github.com/heymatch/heymatch-api/internal/quota"
	"github.com/heymatch/heymatch-api/internal/ratelimit"
	"github.com/heymatch/heymatch-api/internal/search"
	"github.com/heymatch/heymatch-api/internal/session"
	"github.com/heymatch/heymatch-api/internal/swipe"
	"github.com/heymatch/heymatch-api/internal/token"
)

// stores groups the persistence backends: Postgres when DATABASE_URL is set,
// in-memory otherwise (dev only, nothing survives a restart).
type stores struct {
	identity   identity.Store
	tokens     token.Store
	quota      quota.CounterStore
	membership membership.Store
	swipes     swipe.Store
	chats      chat.Store
	billing    billing.Store
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "heymatch-api").Logger()

	cfg := config.Load()

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}

	var st stores
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		st = stores{
			identity:   identity.NewPGStore(pool),
			tokens:     token.NewPGStore(pool),
			quota:      quota.NewPGStore(pool),
			membership: membership.NewPGStore(pool),
			swipes:     swipe.NewPGStore(pool),
			chats:      chat.NewPGStore(pool),
			billing:    billing.NewPGStore(pool),
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		st = stores{
			identity:   identity.NewMemStore(),
			tokens:     token.NewMemStore(),
			quota:      quota.NewMemStore(),
			membership: membership.NewMemStore(),
			swipes:     swipe.NewMemStore(),
			chats:      chat.NewMemStore(),
			billing:    billing.NewMemStore(),
		}
	}

	// Rate-limit counters and IP blocks live in Redis when configured so
	// they hold across processes; otherwise both stay in-process.
	var (
		rlStore   ratelimit.Store
		blocklist ratelimit.Blocklist
	)
	if cfg.RedisAddr != "" {
		rs, err := ratelimit.NewRedisStore(cfg.RedisAddr, config.Env("REDIS_PASSWORD", ""), 0)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rs.Close()
		rlStore = rs
		blocklist = ratelimit.NewRedisBlocklist(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: config.Env("REDIS_PASSWORD", ""),
		}))
	} else {
		ms := ratelimit.NewMemStore(clk)
		go ms.RunSweeper(ctx, time.Minute, 2*time.Hour)
		rlStore = ms
		blocklist = ratelimit.NewMemBlocklist(clk)
	}
	matrix := ratelimit.DefaultMatrix().Apply(limitRules(cfg.Policy.RateLimits))
	limiter := ratelimit.NewLimiter(rlStore, blocklist, matrix)

	identitySvc := identity.NewService(st.identity, notify.LogNotifier{}, clk, identity.Config{
		CodeTTL:      cfg.CodeTTL,
		LockoutAfter: cfg.LockoutAfter,
		LockoutFor:   cfg.LockoutFor,
	})
	tokens := token.NewLedger(st.tokens, clk, token.Config{TTL: cfg.RefreshTTL})
	sessions := session.NewTracker(clk, session.Config{IdleWindow: cfg.SessionIdle, HardExpiry: cfg.SessionHard})
	ledger := membership.NewLedger(st.membership, clk)
	quotaEng := quota.NewEngine(st.quota, ledger, clk)
	swipes := swipe.NewService(st.swipes, clk)
	chats := chat.NewService(st.chats, swipes, clk)
	bill := billing.NewService(st.billing, ledger, cfg.Policy.Pricing, billing.NewHMACVerifier(paymentSecrets()), clk)
	dispatcher := agent.NewDispatcher(
		agent.RulesClassifier{},
		agent.TemplateAnswerer{},
		&search.FixedSearcher{},
		profile.NewMemStore(),
		swipes,
	)

	go sessions.RunSweeper(ctx, time.Minute)
	go ledger.RunSweeper(ctx, time.Hour)
	go bill.RunSweeper(ctx, 10*time.Minute)

	srv := &httpapi.Server{
		TokenCfg: auth.TokenCfg{
			HS256Secret: cfg.JWTSecret,
			AccessTTL:   cfg.AccessTTL,
			DevMode:     cfg.Env == "dev",
		},
		Clock:      clk,
		Identity:   identitySvc,
		Tokens:     tokens,
		Sessions:   sessions,
		Limiter:    limiter,
		Quota:      quotaEng,
		Membership: ledger,
		Swipes:     swipes,
		Chats:      chats,
		Billing:    bill,
		Dispatcher: dispatcher,
		Metrics:    metrics.New(sessions.OnlineCount),
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

func limitRules(in []config.RateLimitRule) []ratelimit.Rule {
	out := make([]ratelimit.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, ratelimit.Rule{Class: r.Class, Limit: r.Limit, WindowSeconds: r.WindowSeconds})
	}
	return out
}

// paymentSecrets maps payment methods to their webhook HMAC secrets. Methods
// without a secret in the environment are not accepted.
func paymentSecrets() map[string]string {
	secrets := make(map[string]string)
	for _, method := range []string{"mockpay", "stripe", "alipay", "wechatpay"} {
		if s := os.Getenv("PAY_SECRET_" + strings.ToUpper(method)); s != "" {
			secrets[method] = s
		}
	}
	return secrets
}
