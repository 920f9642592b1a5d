package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/notify"
)

// captureNotifier records the last delivered message so tests can read the
// issued verification code.
type captureNotifier struct {
	last notify.Message
}

func (c *captureNotifier) Send(_ context.Context, m notify.Message) error {
	c.last = m
	return nil
}

func newTestService(t *testing.T) (*Service, *MemStore, *captureNotifier, *clock.Fake) {
	t.Helper()
	store := NewMemStore()
	notifier := &captureNotifier{}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(store, notifier, clk, Config{})
	return svc, store, notifier, clk
}

func issueCode(t *testing.T, svc *Service, n *captureNotifier, p Provider, id string, purpose CodePurpose) string {
	t.Helper()
	require.NoError(t, svc.SendCode(context.Background(), p, id, purpose))
	code := n.last.Variables["code"]
	require.Len(t, code, 6)
	return code
}

func TestSendCodeResendInterval(t *testing.T) {
	svc, _, notifier, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, ProviderPhone, "+15551112222", PurposeRegister))
	assert.Equal(t, notify.ChannelSMS, notifier.last.Channel)

	err := svc.SendCode(ctx, ProviderPhone, "+15551112222", PurposeRegister)
	assert.True(t, apperr.Is(err, apperr.KindRateLimited), "second send within 60s must be rejected")

	clk.Advance(61 * time.Second)
	assert.NoError(t, svc.SendCode(ctx, ProviderPhone, "+15551112222", PurposeRegister))
}

func TestVerifyCodeSingleUse(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderPhone, "+15550001111", PurposeLogin)

	ok, err := svc.VerifyCode(ctx, ProviderPhone, "+15550001111", code, PurposeLogin)
	require.NoError(t, err)
	assert.True(t, ok, "fresh code must verify")

	ok, err = svc.VerifyCode(ctx, ProviderPhone, "+15550001111", code, PurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok, "used code must not verify twice")
}

func TestVerifyCodeAttemptCap(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderPhone, "+15550002222", PurposeLogin)

	for i := 0; i < 3; i++ {
		ok, err := svc.VerifyCode(ctx, ProviderPhone, "+15550002222", "000000", PurposeLogin)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// Attempts exhausted: even the right code is refused now.
	ok, err := svc.VerifyCode(ctx, ProviderPhone, "+15550002222", code, PurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok, "code must be dead after max attempts")
}

func TestVerifyCodeExpired(t *testing.T) {
	svc, _, notifier, clk := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderPhone, "+15550003333", PurposeLogin)

	clk.Advance(11 * time.Minute)
	ok, err := svc.VerifyCode(ctx, ProviderPhone, "+15550003333", code, PurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok, "expired code must not verify")
}

func TestNewCodeInvalidatesPrior(t *testing.T) {
	svc, _, notifier, clk := newTestService(t)
	ctx := context.Background()
	first := issueCode(t, svc, notifier, ProviderPhone, "+15550004444", PurposeLogin)
	clk.Advance(2 * time.Minute)
	second := issueCode(t, svc, notifier, ProviderPhone, "+15550004444", PurposeLogin)

	ok, err := svc.VerifyCode(ctx, ProviderPhone, "+15550004444", first, PurposeLogin)
	require.NoError(t, err)
	if first != second {
		assert.False(t, ok, "prior code must be invalidated by reissue")
	}

	ok, err = svc.VerifyCode(ctx, ProviderPhone, "+15550004444", second, PurposeLogin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterHappyPath(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderPhone, "+15551112222", PurposeRegister)

	user, err := svc.Register(ctx, ProviderPhone, "+15551112222", code, "Mia", "")
	require.NoError(t, err)
	assert.Equal(t, "Mia", user.DisplayName)
	assert.Equal(t, StatusActive, user.Status)
	assert.NotZero(t, user.ID)
}

func TestRegisterDuplicateBinding(t *testing.T) {
	svc, _, notifier, clk := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderPhone, "+15551119999", PurposeRegister)
	_, err := svc.Register(ctx, ProviderPhone, "+15551119999", code, "Mia", "")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	code = issueCode(t, svc, notifier, ProviderPhone, "+15551119999", PurposeRegister)
	_, err = svc.Register(ctx, ProviderPhone, "+15551119999", code, "Mia Again", "")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "duplicate binding must conflict, got %v", err)
}

func TestRegisterBadCode(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	issueCode(t, svc, notifier, ProviderPhone, "+15551118888", PurposeRegister)

	_, err := svc.Register(ctx, ProviderPhone, "+15551118888", "999999", "Mia", "")
	require.Error(t, err)
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "CODE_INVALID", e.WireCode())
}

func TestRegisterPasswordPolicy(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderEmail, "mia@example.com", PurposeRegister)

	_, err := svc.Register(ctx, ProviderEmail, "mia@example.com", code, "Mia", "short")
	require.Error(t, err)
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "POLICY_VIOLATION", e.WireCode())
}

func registerEmailUser(t *testing.T, svc *Service, notifier *captureNotifier, email, password string) User {
	t.Helper()
	code := issueCode(t, svc, notifier, ProviderEmail, email, PurposeRegister)
	user, err := svc.Register(context.Background(), ProviderEmail, email, code, "Tester", password)
	require.NoError(t, err)
	return user
}

func TestLoginPassword(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	user := registerEmailUser(t, svc, notifier, "mia@example.com", "hunter2hunter2")

	got, err := svc.Login(ctx, ProviderEmail, "mia@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Login(ctx, ProviderEmail, "mia@example.com", "wrong-password")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestLoginPhoneCode(t *testing.T) {
	svc, _, notifier, clk := newTestService(t)
	ctx := context.Background()
	code := issueCode(t, svc, notifier, ProviderPhone, "+15557770000", PurposeRegister)
	user, err := svc.Register(ctx, ProviderPhone, "+15557770000", code, "Kai", "")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	loginCode := issueCode(t, svc, notifier, ProviderPhone, "+15557770000", PurposeLogin)
	got, err := svc.Login(ctx, ProviderPhone, "+15557770000", loginCode)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestLoginLockout(t *testing.T) {
	svc, store, notifier, clk := newTestService(t)
	ctx := context.Background()
	registerEmailUser(t, svc, notifier, "lock@example.com", "hunter2hunter2")

	// Five failures trip the lock.
	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, ProviderEmail, "lock@example.com", "wrong")
		require.Error(t, err)
	}

	b, err := store.BindingByProvider(ctx, ProviderEmail, "lock@example.com")
	require.NoError(t, err)
	require.NotNil(t, b.LockedUntil, "5th failure must set locked_until")
	assert.Equal(t, 5, b.FailedAttempts)

	// Locked: even the correct password is refused and attempts stay put.
	_, err = svc.Login(ctx, ProviderEmail, "lock@example.com", "hunter2hunter2")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	b, _ = store.BindingByProvider(ctx, ProviderEmail, "lock@example.com")
	assert.Equal(t, 5, b.FailedAttempts, "locked logins must not increment attempts")

	// After the window the correct password works and counters reset.
	clk.Advance(16 * time.Minute)
	_, err = svc.Login(ctx, ProviderEmail, "lock@example.com", "hunter2hunter2")
	require.NoError(t, err)
	b, _ = store.BindingByProvider(ctx, ProviderEmail, "lock@example.com")
	assert.Equal(t, 0, b.FailedAttempts)
	assert.Nil(t, b.LockedUntil)
}

func TestLoginLockoutRearmsAfterExpiry(t *testing.T) {
	svc, store, notifier, clk := newTestService(t)
	ctx := context.Background()
	registerEmailUser(t, svc, notifier, "persist@example.com", "hunter2hunter2")

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, ProviderEmail, "persist@example.com", "wrong")
		require.Error(t, err)
	}
	b, err := store.BindingByProvider(ctx, ProviderEmail, "persist@example.com")
	require.NoError(t, err)
	require.NotNil(t, b.LockedUntil)
	firstLock := *b.LockedUntil

	// The lock lapses without a successful login; the very next failure
	// must lock the binding again rather than let attempts run free.
	clk.Advance(16 * time.Minute)
	_, err = svc.Login(ctx, ProviderEmail, "persist@example.com", "wrong")
	require.Error(t, err)

	b, err = store.BindingByProvider(ctx, ProviderEmail, "persist@example.com")
	require.NoError(t, err)
	require.NotNil(t, b.LockedUntil, "failure after an expired lock must re-lock")
	assert.True(t, b.LockedUntil.After(firstLock), "new lock must extend past the first")

	// And the fresh lock refuses even the correct password.
	_, err = svc.Login(ctx, ProviderEmail, "persist@example.com", "hunter2hunter2")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	b, _ = store.BindingByProvider(ctx, ProviderEmail, "persist@example.com")
	assert.Equal(t, 6, b.FailedAttempts, "locked logins must not increment attempts")
}

func TestLoginEnumerationSafe(t *testing.T) {
	svc, _, notifier, _ := newTestService(t)
	ctx := context.Background()
	registerEmailUser(t, svc, notifier, "real@example.com", "hunter2hunter2")

	_, errNoUser := svc.Login(ctx, ProviderEmail, "ghost@example.com", "whatever1")
	_, errBadPass := svc.Login(ctx, ProviderEmail, "real@example.com", "whatever1")

	require.Error(t, errNoUser)
	require.Error(t, errBadPass)
	assert.Equal(t, errNoUser.Error(), errBadPass.Error(),
		"unknown account and wrong credential must be indistinguishable")
}

func TestLoginSuspendedUser(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	ctx := context.Background()
	user := registerEmailUser(t, svc, notifier, "sus@example.com", "hunter2hunter2")
	require.NoError(t, store.SetUserStatus(ctx, user.ID, StatusSuspended))

	_, err := svc.Login(ctx, ProviderEmail, "sus@example.com", "hunter2hunter2")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.CurrentUser(ctx, user.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestPasswordHashNeverPlaintext(t *testing.T) {
	svc, store, notifier, _ := newTestService(t)
	registerEmailUser(t, svc, notifier, "hash@example.com", "plaintext-password")

	b, err := store.BindingByProvider(context.Background(), ProviderEmail, "hash@example.com")
	require.NoError(t, err)
	assert.NotContains(t, b.PasswordHash, "plaintext-password")
	assert.True(t, auth.VerifyPassword(b.PasswordHash, "plaintext-password"))
}
