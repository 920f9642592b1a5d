// Package config loads server configuration from the environment (with an
// optional .env file) and an optional YAML policy file that overrides the
// rate-limit matrix and membership pricing.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

// Config is the fully resolved server configuration.
type Config struct {
	Env          string
	HTTPAddr     string
	DatabaseURL  string
	RedisAddr    string // empty: in-memory rate-limit store
	JWTSecret    string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	CodeTTL      time.Duration
	SessionIdle  time.Duration
	SessionHard  time.Duration
	LockoutAfter int
	LockoutFor   time.Duration

	Policy Policy
}

// Policy holds the tunables that may also come from a YAML file.
type Policy struct {
	RateLimits []RateLimitRule `yaml:"rate_limits"`
	Pricing    Pricing         `yaml:"pricing"`
}

// RateLimitRule overrides one class in the rate-limit matrix.
type RateLimitRule struct {
	Class         string `yaml:"class"`
	Limit         int    `yaml:"limit"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// Pricing configures day-package prices in integer minor units.
type Pricing struct {
	Currency       string `yaml:"currency"`
	BaseCents30Day int64  `yaml:"base_cents_30_day"`
	YearDiscount   int    `yaml:"year_discount_percent"` // e.g. 85 => year costs 85% of 12x base
}

// Env reads an environment variable with a default.
func Env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", k).Str("value", v).Msg("invalid duration, using default")
		return def
	}
	return d
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DefaultPricing matches the documented day-package tiers.
func DefaultPricing() Pricing {
	return Pricing{
		Currency:       "USD",
		BaseCents30Day: 2999,
		YearDiscount:   85,
	}
}

// Load resolves configuration. A .env file is applied first when present;
// POLICY_FILE, when set, points at the YAML policy overrides.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded .env file")
	}

	cfg := Config{
		Env:          Env("ENV", "dev"),
		HTTPAddr:     Env("HTTP_ADDR", ":8080"),
		DatabaseURL:  Env("DATABASE_URL", ""),
		RedisAddr:    Env("REDIS_ADDR", ""),
		JWTSecret:    Env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
		AccessTTL:    envDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTTL:   envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		CodeTTL:      envDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
		SessionIdle:  envDuration("SESSION_IDLE_WINDOW", 15*time.Minute),
		SessionHard:  envDuration("SESSION_HARD_EXPIRY", 7*24*time.Hour),
		LockoutAfter: envInt("LOGIN_LOCKOUT_AFTER", 5),
		LockoutFor:   envDuration("LOGIN_LOCKOUT_FOR", 15*time.Minute),
		Policy:       Policy{Pricing: DefaultPricing()},
	}

	if path := Env("POLICY_FILE", ""); path != "" {
		policy, err := loadPolicy(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to load policy file, using defaults")
		} else {
			cfg.Policy = mergePolicy(cfg.Policy, policy)
			log.Info().Str("path", path).Msg("policy file loaded")
		}
	}

	return cfg
}

func loadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, err
	}
	defer f.Close()

	var p Policy
	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func mergePolicy(base, override Policy) Policy {
	if len(override.RateLimits) > 0 {
		base.RateLimits = override.RateLimits
	}
	if override.Pricing.BaseCents30Day > 0 {
		base.Pricing.BaseCents30Day = override.Pricing.BaseCents30Day
	}
	if override.Pricing.Currency != "" {
		base.Pricing.Currency = override.Pricing.Currency
	}
	if override.Pricing.YearDiscount > 0 {
		base.Pricing.YearDiscount = override.Pricing.YearDiscount
	}
	return base
}
