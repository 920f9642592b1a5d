// Package identity owns users, their auth-provider bindings and the
// one-time verification code ledger, and implements registration and login.
package identity

import (
	"context"
	"time"
)

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
)

// Provider identifies how an identity is proven.
type Provider string

const (
	ProviderPhone  Provider = "phone"
	ProviderEmail  Provider = "email"
	ProviderWechat Provider = "wechat"
	ProviderGoogle Provider = "google"
)

// ValidProvider reports whether p is a known provider.
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderPhone, ProviderEmail, ProviderWechat, ProviderGoogle:
		return true
	}
	return false
}

// User is an account.
type User struct {
	ID          int64      `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Status      UserStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastActive  time.Time  `json:"last_active"`
}

// Binding ties a user to one provider identity. (provider, provider_id) is
// globally unique; at most one primary binding per user.
type Binding struct {
	UserID         int64
	Provider       Provider
	ProviderID     string
	PasswordHash   string // empty for non-credential providers
	Verified       bool
	Primary        bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLogin      *time.Time
}

// CodePurpose scopes a verification code to one flow.
type CodePurpose string

const (
	PurposeRegister CodePurpose = "register"
	PurposeLogin    CodePurpose = "login"
	PurposeReset    CodePurpose = "reset"
	PurposeVerify   CodePurpose = "verify"
)

// ValidPurpose reports whether p is a known code purpose.
func ValidPurpose(p CodePurpose) bool {
	switch p {
	case PurposeRegister, PurposeLogin, PurposeReset, PurposeVerify:
		return true
	}
	return false
}

// VerificationCode is one issued code. At most one unused, non-expired code
// exists per (provider, provider_id, purpose); issuing replaces the prior one.
type VerificationCode struct {
	Provider    Provider
	ProviderID  string
	CodeHash    string
	Purpose     CodePurpose
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	Attempts    int
	MaxAttempts int
}

// Store is the persistence contract for identities and codes.
type Store interface {
	// CreateUserWithBinding atomically creates the user row and its primary
	// verified binding. Fails with Conflict when the binding already exists.
	CreateUserWithBinding(ctx context.Context, name string, b Binding, now time.Time) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	SetUserStatus(ctx context.Context, id int64, status UserStatus) error
	TouchLastActive(ctx context.Context, id int64, now time.Time) error

	BindingByProvider(ctx context.Context, p Provider, providerID string) (Binding, error)
	// RecordLoginFailure increments failed_attempts and applies lockedUntil
	// whenever the count is at or past the threshold and no unexpired lock
	// is in place. Returns the new attempt count.
	RecordLoginFailure(ctx context.Context, p Provider, providerID string, threshold int, now, lockedUntil time.Time) (int, error)
	// RecordLoginSuccess resets failed_attempts and stamps last_login.
	RecordLoginSuccess(ctx context.Context, p Provider, providerID string, now time.Time) error

	// ReplaceCode invalidates any live code for the triple and stores c.
	ReplaceCode(ctx context.Context, c VerificationCode) error
	// LiveCode returns the unique unused, non-expired code for the triple.
	LiveCode(ctx context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) (VerificationCode, error)
	// BumpCodeAttempts increments the live code's attempt counter and
	// returns the count after increment.
	BumpCodeAttempts(ctx context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) (int, error)
	// MarkCodeUsed stamps used_at on the live code.
	MarkCodeUsed(ctx context.Context, p Provider, providerID string, purpose CodePurpose, now time.Time) error
	// LastCodeIssuedAt returns the most recent issue time for the identity
	// across purposes, or nil when none was ever issued.
	LastCodeIssuedAt(ctx context.Context, p Provider, providerID string) (*time.Time, error)
}
