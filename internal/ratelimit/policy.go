// Package ratelimit implements keyed sliding-window admission control, the
// IP blocklist and the abuse heuristics behind the HTTP middleware.
package ratelimit

import "time"

// Class names one row of the policy matrix.
type Class string

const (
	ClassGlobalIP       Class = "global_ip"
	ClassLogin          Class = "login"
	ClassRegister       Class = "register"
	ClassSendCode       Class = "send_code"
	ClassSendCodeperID  Class = "send_code_identity"
	ClassVerifyCode     Class = "verify_code"
	ClassPasswordReset  Class = "password_reset"
	ClassSwipeFree      Class = "swipe_free"
	ClassSwipePaid      Class = "swipe_paid"
	ClassCardCreateFree Class = "card_create_free"
	ClassCardCreatePaid Class = "card_create_paid"
)

// Policy is one sliding-window rule.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Rule is an external override for one class (from the policy file).
type Rule struct {
	Class         string
	Limit         int
	WindowSeconds int
}

// Matrix maps classes to policies.
type Matrix map[Class]Policy

// DefaultMatrix is the shipped policy matrix.
func DefaultMatrix() Matrix {
	return Matrix{
		ClassGlobalIP:       {Limit: 100, Window: 3600 * time.Second},
		ClassLogin:          {Limit: 5, Window: 300 * time.Second},
		ClassRegister:       {Limit: 3, Window: 3600 * time.Second},
		ClassSendCode:       {Limit: 3, Window: 300 * time.Second},
		ClassSendCodeperID:  {Limit: 1, Window: 60 * time.Second},
		ClassVerifyCode:     {Limit: 10, Window: 300 * time.Second},
		ClassPasswordReset:  {Limit: 3, Window: 3600 * time.Second},
		ClassSwipeFree:      {Limit: 30, Window: 86400 * time.Second},
		ClassSwipePaid:      {Limit: 30, Window: 3600 * time.Second},
		ClassCardCreateFree: {Limit: 3, Window: 86400 * time.Second},
		ClassCardCreatePaid: {Limit: 10, Window: 86400 * time.Second},
	}
}

// Apply overlays override rules onto the matrix.
func (m Matrix) Apply(rules []Rule) Matrix {
	for _, r := range rules {
		if r.Limit <= 0 || r.WindowSeconds <= 0 {
			continue
		}
		m[Class(r.Class)] = Policy{Limit: r.Limit, Window: time.Duration(r.WindowSeconds) * time.Second}
	}
	return m
}

// Block durations by trigger.
const (
	BlockStrictEndpoint = 15 * time.Minute
	BlockGlobalLimit    = 60 * time.Minute
	BlockSuspicious     = 30 * time.Minute
)
