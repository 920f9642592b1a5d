package ratelimit

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heymatch/heymatch-api/internal/clock"
)

func newLimiter(t *testing.T) (*Limiter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemStore(clk)
	return NewLimiter(store, NewMemBlocklist(clk), DefaultMatrix()), clk
}

func TestSlidingWindowAdmission(t *testing.T) {
	l, clk := newLimiter(t)
	ctx := context.Background()

	// Login class: 5 per 300s.
	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, ClassLogin, "1.2.3.4|/auth/login")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should be admitted: %+v %v", i+1, d, err)
		}
	}

	d, _ := l.Allow(ctx, ClassLogin, "1.2.3.4|/auth/login")
	if d.Allowed {
		t.Fatal("6th login in window must be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", d.Remaining)
	}

	// Window slides: after 301s the oldest event leaves.
	clk.Advance(301 * time.Second)
	d, _ = l.Allow(ctx, ClassLogin, "1.2.3.4|/auth/login")
	if !d.Allowed {
		t.Fatal("request after window must be admitted")
	}
}

func TestWindowIsPerKey(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Allow(ctx, ClassLogin, "1.1.1.1|/auth/login")
	}
	d, _ := l.Allow(ctx, ClassLogin, "2.2.2.2|/auth/login")
	if !d.Allowed {
		t.Fatal("different key must have its own window")
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if d, _ := l.Peek(ctx, ClassLogin, "k"); !d.Allowed {
			t.Fatal("peek must not consume the window")
		}
	}
}

func TestSendCodePerIdentity(t *testing.T) {
	l, clk := newLimiter(t)
	ctx := context.Background()

	d, _ := l.Allow(ctx, ClassSendCodeperID, "phone:+15551112222")
	if !d.Allowed {
		t.Fatal("first send must pass")
	}
	d, _ = l.Allow(ctx, ClassSendCodeperID, "phone:+15551112222")
	if d.Allowed {
		t.Fatal("second send within 60s must be denied")
	}
	clk.Advance(61 * time.Second)
	d, _ = l.Allow(ctx, ClassSendCodeperID, "phone:+15551112222")
	if !d.Allowed {
		t.Fatal("send after 60s must pass")
	}
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	clk := clock.NewFake(time.Now())
	store := NewMemStore(clk)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := store.Allow(context.Background(), "k", 30, time.Hour)
			if d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 30 {
		t.Errorf("expected exactly 30 admissions, got %d", admitted)
	}
}

func TestBlocklist(t *testing.T) {
	clk := clock.NewFake(time.Now())
	bl := NewMemBlocklist(clk)
	ctx := context.Background()

	if _, blocked, _ := bl.BlockedUntil(ctx, "9.9.9.9"); blocked {
		t.Fatal("fresh ip must not be blocked")
	}

	bl.Block(ctx, "9.9.9.9", BlockStrictEndpoint, "login limit")
	until, blocked, _ := bl.BlockedUntil(ctx, "9.9.9.9")
	if !blocked {
		t.Fatal("ip must be blocked")
	}
	if want := clk.Now().Add(15 * time.Minute); !until.Equal(want) {
		t.Errorf("expected block until %v, got %v", want, until)
	}

	// A shorter overlapping block must not shrink the ban.
	bl.Block(ctx, "9.9.9.9", time.Minute, "again")
	until2, _, _ := bl.BlockedUntil(ctx, "9.9.9.9")
	if until2.Before(until) {
		t.Error("existing block must never be shortened")
	}

	clk.Advance(16 * time.Minute)
	if _, blocked, _ := bl.BlockedUntil(ctx, "9.9.9.9"); blocked {
		t.Error("block must lapse after its window")
	}
}

func TestInspectHeuristics(t *testing.T) {
	cases := []struct {
		name   string
		target string
		ua     string
		want   SuspicionReason
	}{
		{"clean", "/swipes?limit=10", "Mozilla/5.0", SuspicionNone},
		{"sql injection", "/users?q=1+union+select+password", "Mozilla/5.0", SuspicionPayload},
		{"traversal", "/files/../../etc/passwd", "Mozilla/5.0", SuspicionPayload},
		{"script tag", "/search?q=%3Cscript%3Ealert(1)", "Mozilla/5.0", SuspicionPayload},
		{"scanner ua", "/healthz", "sqlmap/1.7", SuspicionScannerUA},
		{"long url", "/x?pad=" + strings.Repeat("a", 2100), "Mozilla/5.0", SuspicionLongURL},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			req.Header.Set("User-Agent", tc.ua)
			if got := Inspect(req); got != tc.want {
				t.Errorf("Inspect(%s) = %q, want %q", tc.target, got, tc.want)
			}
		})
	}
}

func TestMemStoreSweep(t *testing.T) {
	clk := clock.NewFake(time.Now())
	store := NewMemStore(clk)
	ctx := context.Background()

	store.Allow(ctx, "a", 10, time.Minute)
	store.Allow(ctx, "b", 10, time.Minute)

	clk.Advance(2 * time.Hour)
	if n := store.Sweep(time.Hour); n != 2 {
		t.Errorf("expected 2 stale keys swept, got %d", n)
	}
}

func TestVerifyCodeClassIsSeparate(t *testing.T) {
	m := DefaultMatrix()
	v, ok := m[ClassVerifyCode]
	if !ok {
		t.Fatal("verify_code class missing from default matrix")
	}
	if v == m[ClassPasswordReset] {
		t.Errorf("verify_code must not share the password_reset policy: %+v", v)
	}
}

func TestMatrixApplyOverride(t *testing.T) {
	m := DefaultMatrix().Apply([]Rule{
		{Class: "login", Limit: 10, WindowSeconds: 600},
		{Class: "bogus", Limit: 0, WindowSeconds: 0}, // ignored
	})
	if p := m[ClassLogin]; p.Limit != 10 || p.Window != 10*time.Minute {
		t.Errorf("override not applied: %+v", p)
	}
	if p := m[ClassGlobalIP]; p.Limit != 100 {
		t.Errorf("untouched class changed: %+v", p)
	}
}
