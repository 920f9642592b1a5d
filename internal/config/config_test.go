package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvDefault(t *testing.T) {
	os.Unsetenv("HM_TEST_MISSING")
	if got := Env("HM_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}

	t.Setenv("HM_TEST_SET", "value")
	if got := Env("HM_TEST_SET", "fallback"); got != "value" {
		t.Errorf("expected value, got %s", got)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
rate_limits:
  - class: login
    limit: 10
    window_seconds: 600
pricing:
  currency: CNY
  base_cents_30_day: 1999
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := loadPolicy(path)
	if err != nil {
		t.Fatalf("loadPolicy: %v", err)
	}
	if len(p.RateLimits) != 1 || p.RateLimits[0].Class != "login" || p.RateLimits[0].Limit != 10 {
		t.Errorf("unexpected rate limits: %+v", p.RateLimits)
	}

	merged := mergePolicy(Policy{Pricing: DefaultPricing()}, p)
	if merged.Pricing.BaseCents30Day != 1999 {
		t.Errorf("pricing override not applied: %+v", merged.Pricing)
	}
	if merged.Pricing.YearDiscount != 85 {
		t.Errorf("unset override should keep default year discount, got %d", merged.Pricing.YearDiscount)
	}
}
