// Package policy decides, from an attempt record, whether an identity is
// currently blocked from submitting and for how long. All functions are
// pure over the record and the clock; the ledger owns mutation.
package policy

import (
	"math"
	"time"

	"github.com/okellodev/authgate/internal/models"
)

// Config holds the lockout policy knobs.
type Config struct {
	MaxPasswordAttempts     int
	MaxSecondFactorAttempts int
	LockoutTTL              time.Duration
	MinPasswordLength       int
}

// DefaultConfig returns the stock policy settings.
func DefaultConfig() Config {
	return Config{
		MaxPasswordAttempts:     5,
		MaxSecondFactorAttempts: 5,
		LockoutTTL:              15 * time.Minute,
		MinPasswordLength:       8,
	}
}

// Policy evaluates lockout state against the configured limits.
type Policy struct {
	cfg Config
	now func() time.Time
}

// New creates a Policy with the given configuration.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg, now: time.Now}
}

// IsLocked reports whether the record carries a lock that has not yet
// elapsed. A nil record is never locked.
func (p *Policy) IsLocked(rec *models.AttemptRecord) bool {
	if rec == nil || rec.LockedUntil == nil {
		return false
	}
	return rec.LockedUntil.After(p.now())
}

// RemainingLockMinutes returns the wait time in whole minutes, rounded up.
// Defined only while IsLocked is true; returns 0 otherwise.
func (p *Policy) RemainingLockMinutes(rec *models.AttemptRecord) int {
	if !p.IsLocked(rec) {
		return 0
	}
	remaining := rec.LockedUntil.Sub(p.now())
	return int(math.Ceil(remaining.Minutes()))
}

// AttemptsRemaining returns how many failures are left before the purpose's
// maximum is reached, never negative.
func (p *Policy) AttemptsRemaining(rec *models.AttemptRecord, purpose models.Purpose) int {
	attempts := 0
	if rec != nil {
		attempts = rec.Attempts
	}
	remaining := p.MaxAttempts(purpose) - attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MaxAttempts returns the configured attempt ceiling for a purpose.
func (p *Policy) MaxAttempts(purpose models.Purpose) int {
	if purpose == models.PurposeSecondFactor {
		return p.cfg.MaxSecondFactorAttempts
	}
	return p.cfg.MaxPasswordAttempts
}

// MinPasswordLength returns the configured local password length floor.
func (p *Policy) MinPasswordLength() int {
	return p.cfg.MinPasswordLength
}

// LockoutTTL returns the configured lock window duration.
func (p *Policy) LockoutTTL() time.Duration {
	return p.cfg.LockoutTTL
}
