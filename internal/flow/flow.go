// Package flow implements the multi-step login gate: email validation,
// password submission, and second-factor verification, with lockout checks
// against the attempt ledger before every dispatch and a password-expired
// countdown that preempts the machine outright.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okellodev/authgate/internal/identity"
	"github.com/okellodev/authgate/internal/ledger"
	"github.com/okellodev/authgate/internal/models"
	"github.com/okellodev/authgate/internal/policy"
	pkglogger "github.com/okellodev/authgate/pkg/logger"
)

// Config holds flow-level knobs.
type Config struct {
	CountdownStart    int
	CountdownInterval time.Duration
	RecoveryPath      string
	DashboardPath     string
}

// DefaultConfig returns the stock flow settings.
func DefaultConfig() Config {
	return Config{
		CountdownStart:    5,
		CountdownInterval: time.Second,
		RecoveryPath:      "/auth/secure-password-change",
		DashboardPath:     "/dashboard",
	}
}

// Session carries the upstream tokens once authentication completes.
type Session struct {
	AccessToken  string
	RefreshToken string
}

// Deps bundles the collaborators a Flow needs.
type Deps struct {
	Ledger *ledger.Ledger
	Policy *policy.Policy
	Client identity.Client
	Logger *slog.Logger
	Audit  *pkglogger.AuditLogger
	Config Config
}

// Flow is one active login attempt. It owns the current phase, the
// validated identity, and the per-action busy flags; exactly one exists per
// working session and it is destroyed on success or teardown.
type Flow struct {
	mu sync.Mutex

	id       string
	phase    models.Phase
	identity string

	errMsg  string
	infoMsg string

	submitBusy bool
	resending  bool

	countdown *Countdown
	redirect  string
	session   *Session

	deps Deps
}

// CountdownState is the externally visible slice of an active countdown.
type CountdownState struct {
	RemainingSeconds int
	Fired            bool
	RecoveryPath     string
}

// Snapshot is a point-in-time view of the flow for rendering.
type Snapshot struct {
	ID                string
	Phase             models.Phase
	Identity          string
	ErrorMessage      string
	InfoMessage       string
	Busy              bool
	Resending         bool
	Locked            bool
	LockedUntil       *time.Time
	AttemptsRemaining int
	Countdown         *CountdownState
	Authenticated     bool
	RedirectTo        string
	Session           *Session
}

// New creates a Flow in the email phase.
func New(deps Deps) *Flow {
	return &Flow{
		id:    uuid.NewString(),
		phase: models.PhaseEmail,
		deps:  deps,
	}
}

// ID returns the flow identifier.
func (f *Flow) ID() string {
	return f.id
}

// State returns the current snapshot.
func (f *Flow) State() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// SubmitEmail validates the email locally, checks the password-purpose lock
// for that identity, and on success advances to the password phase. Purely
// local: no network call is made.
func (f *Flow) SubmitEmail(email string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countdown != nil {
		return f.snapshotLocked(), nil
	}
	if f.phase != models.PhaseEmail {
		return f.snapshotLocked(), models.ErrWrongPhase
	}
	if f.submitBusy {
		return f.snapshotLocked(), nil
	}

	f.errMsg, f.infoMsg = "", ""

	norm := models.NormalizeIdentity(email)
	if norm == "" {
		f.errMsg = "Email is required"
		return f.snapshotLocked(), nil
	}
	if !models.ValidEmail(norm) {
		f.errMsg = "Invalid email address"
		return f.snapshotLocked(), nil
	}

	rec := f.deps.Ledger.Peek(models.PurposePassword, norm)
	if f.deps.Policy.IsLocked(rec) {
		minutes := f.deps.Policy.RemainingLockMinutes(rec)
		f.errMsg = fmt.Sprintf("Too many failed attempts. Try again in ~%d minute(s).", minutes)
		return f.snapshotLocked(), nil
	}

	f.identity = norm
	f.phase = models.PhasePassword
	return f.snapshotLocked(), nil
}

// SubmitPassword checks the password-purpose lock and the local length
// floor, then invokes the upstream login. The lock check always happens
// before dispatch so a lock that matured on this screen cannot be bypassed.
func (f *Flow) SubmitPassword(ctx context.Context, password string) (Snapshot, error) {
	f.mu.Lock()

	if f.countdown != nil {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}
	if f.phase != models.PhasePassword {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, models.ErrWrongPhase
	}
	if f.submitBusy {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}

	f.errMsg, f.infoMsg = "", ""
	email := f.identity

	rec := f.deps.Ledger.Peek(models.PurposePassword, email)
	if f.deps.Policy.IsLocked(rec) {
		minutes := f.deps.Policy.RemainingLockMinutes(rec)
		f.errMsg = fmt.Sprintf("Too many failed attempts. Try again in ~%d minute(s).", minutes)
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}

	if len(password) < f.deps.Policy.MinPasswordLength() {
		f.errMsg = fmt.Sprintf("Password must be at least %d characters.", f.deps.Policy.MinPasswordLength())
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}

	f.submitBusy = true
	f.mu.Unlock()

	res, err := f.deps.Client.Login(ctx, email, password)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitBusy = false

	switch {
	case err == nil && res.RequiresSecondFactor:
		// Fresh second-factor session: both ledgers restart.
		f.deps.Ledger.Clear(models.PurposePassword, email)
		f.deps.Ledger.Clear(models.PurposeSecondFactor, email)
		if res.Email != "" {
			f.identity = models.NormalizeIdentity(res.Email)
		}
		f.phase = models.PhaseSecondFactor
		f.deps.Audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "password_accepted",
			Identity:  pkglogger.SanitizedEmail(email),
			Success:   true,
		})

	case err == nil:
		f.deps.Ledger.Clear(models.PurposePassword, email)
		f.session = &Session{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
		f.redirect = f.deps.Config.DashboardPath
		f.deps.Audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "login_success",
			Identity:  pkglogger.SanitizedEmail(email),
			Success:   true,
		})

	case errors.Is(err, models.ErrPasswordExpired):
		// Server-declared condition, not a brute-force signal: the ledger
		// is not touched and the countdown takes over.
		f.activateCountdownLocked(email)
		f.deps.Audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Identity:      pkglogger.SanitizedEmail(email),
			FailureReason: "password_expired",
			Success:       false,
		})

	case errors.Is(err, models.ErrInvalidCredentials):
		failed := f.deps.Ledger.RecordFailure(models.PurposePassword, email)
		if f.deps.Policy.IsLocked(&failed) {
			minutes := f.deps.Policy.RemainingLockMinutes(&failed)
			f.errMsg = fmt.Sprintf("Too many failed attempts. Locked out for %d minute(s).", minutes)
		} else {
			remaining := f.deps.Policy.AttemptsRemaining(&failed, models.PurposePassword)
			f.errMsg = fmt.Sprintf("Invalid credentials. %d attempt(s) remaining.", remaining)
		}
		f.deps.Audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Identity:      pkglogger.SanitizedEmail(email),
			FailureReason: "invalid_credentials",
			Success:       false,
		})

	default:
		// Cannot tell an attacker from a network blip, so this never
		// counts against the user.
		f.deps.Logger.Error("login call failed", slog.Any("error", err))
		f.errMsg = "Something went wrong. Please try again."
	}

	return f.snapshotLocked(), nil
}

// SubmitCode checks the second-factor lock and the 6-digit shape, then
// invokes the upstream verification.
func (f *Flow) SubmitCode(ctx context.Context, code string) (Snapshot, error) {
	f.mu.Lock()

	if f.countdown != nil {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}
	if f.phase != models.PhaseSecondFactor {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, models.ErrWrongPhase
	}
	if f.submitBusy {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}

	f.errMsg, f.infoMsg = "", ""
	email := f.identity

	rec := f.deps.Ledger.Peek(models.PurposeSecondFactor, email)
	if f.deps.Policy.IsLocked(rec) {
		minutes := f.deps.Policy.RemainingLockMinutes(rec)
		f.errMsg = fmt.Sprintf("Too many MFA attempts. Try again in %d minute(s).", minutes)
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}

	if !models.ValidCode(code) {
		f.errMsg = "6 digits required"
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, nil
	}

	f.submitBusy = true
	f.mu.Unlock()

	res, err := f.deps.Client.VerifySecondFactor(ctx, email, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitBusy = false

	if f.phase != models.PhaseSecondFactor {
		// User backed out while the call was in flight.
		return f.snapshotLocked(), nil
	}

	switch {
	case err == nil:
		f.deps.Ledger.Clear(models.PurposeSecondFactor, email)
		f.session = &Session{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
		f.redirect = f.deps.Config.DashboardPath
		f.deps.Audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "second_factor_success",
			Identity:  pkglogger.SanitizedEmail(email),
			Success:   true,
		})

	case errors.Is(err, models.ErrInvalidCode):
		failed := f.deps.Ledger.RecordFailure(models.PurposeSecondFactor, email)
		if f.deps.Policy.IsLocked(&failed) {
			minutes := f.deps.Policy.RemainingLockMinutes(&failed)
			f.errMsg = fmt.Sprintf("Too many MFA attempts. Try again in %d minute(s).", minutes)
		} else {
			left := f.deps.Policy.AttemptsRemaining(&failed, models.PurposeSecondFactor)
			f.errMsg = fmt.Sprintf("Invalid code. %d attempt(s) left.", left)
		}
		f.deps.Audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "second_factor_failed",
			Identity:      pkglogger.SanitizedEmail(email),
			FailureReason: "invalid_code",
			Success:       false,
		})

	default:
		f.deps.Logger.Error("verification call failed", slog.Any("error", err))
		f.errMsg = "Something went wrong. Please try again."
	}

	return f.snapshotLocked(), nil
}

// Resend asks the upstream to issue a fresh code. It is a no-op while a
// resend or submit is in flight or while the second factor is locked, and
// it never writes the attempt ledger. The returned bool reports whether a
// new code was actually sent, so the caller can reset the code input.
func (f *Flow) Resend(ctx context.Context) (Snapshot, bool, error) {
	f.mu.Lock()

	if f.countdown != nil {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, false, nil
	}
	if f.phase != models.PhaseSecondFactor {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, false, models.ErrWrongPhase
	}
	if f.resending || f.submitBusy {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, false, nil
	}

	email := f.identity
	rec := f.deps.Ledger.Peek(models.PurposeSecondFactor, email)
	if f.deps.Policy.IsLocked(rec) {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, false, nil
	}

	f.resending = true
	f.errMsg, f.infoMsg = "", ""
	f.mu.Unlock()

	err := f.deps.Client.ResendSecondFactor(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.resending = false

	if f.phase != models.PhaseSecondFactor {
		return f.snapshotLocked(), false, nil
	}

	if err != nil {
		f.deps.Logger.Error("resend call failed", slog.Any("error", err))
		f.errMsg = "Failed to resend code"
		return f.snapshotLocked(), false, nil
	}

	f.infoMsg = "New code sent! Check your app."
	f.deps.Audit.LogFlowEvent("second_factor_resent", f.id, map[string]string{
		"identity": pkglogger.SanitizedEmail(email),
	})
	return f.snapshotLocked(), true, nil
}

// BackToEmail returns from the password phase to the email phase. Ledger
// state is untouched: prior failures still count within their window.
func (f *Flow) BackToEmail() (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countdown != nil {
		return f.snapshotLocked(), nil
	}
	if f.phase != models.PhasePassword {
		return f.snapshotLocked(), models.ErrWrongPhase
	}
	if f.submitBusy {
		return f.snapshotLocked(), nil
	}

	f.phase = models.PhaseEmail
	f.identity = ""
	f.errMsg, f.infoMsg = "", ""
	return f.snapshotLocked(), nil
}

// BackToPassword returns from the second-factor phase to the password
// phase.
func (f *Flow) BackToPassword() (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countdown != nil {
		return f.snapshotLocked(), nil
	}
	if f.phase != models.PhaseSecondFactor {
		return f.snapshotLocked(), models.ErrWrongPhase
	}
	if f.submitBusy {
		return f.snapshotLocked(), nil
	}

	f.phase = models.PhasePassword
	f.errMsg, f.infoMsg = "", ""
	return f.snapshotLocked(), nil
}

// SkipCountdown performs the recovery navigation immediately, bypassing
// the remaining ticks.
func (f *Flow) SkipCountdown() (Snapshot, error) {
	f.mu.Lock()
	c := f.countdown
	f.mu.Unlock()

	if c == nil {
		return f.State(), models.ErrWrongPhase
	}
	c.Skip()
	return f.State(), nil
}

// Teardown cancels any live countdown. Called when the flow is destroyed
// so a dangling tick cannot navigate afterwards.
func (f *Flow) Teardown() {
	f.mu.Lock()
	c := f.countdown
	f.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}

// activateCountdownLocked hands control to the expiry countdown. A later
// activation replaces any prior countdown outright.
func (f *Flow) activateCountdownLocked(email string) {
	old := f.countdown
	f.countdown = newCountdown(email, f.deps.Config.CountdownStart, f.deps.Config.CountdownInterval, f.onCountdownFired)
	if old != nil {
		old.Stop()
	}
}

func (f *Flow) onCountdownFired() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirect = f.deps.Config.RecoveryPath
	f.deps.Audit.LogFlowEvent("password_expired_redirect", f.id, nil)
}

func (f *Flow) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:            f.id,
		Phase:         f.phase,
		Identity:      f.identity,
		ErrorMessage:  f.errMsg,
		InfoMessage:   f.infoMsg,
		Busy:          f.submitBusy,
		Resending:     f.resending,
		RedirectTo:    f.redirect,
		Authenticated: f.session != nil,
		Session:       f.session,
	}

	purpose := models.PurposePassword
	if f.phase == models.PhaseSecondFactor {
		purpose = models.PurposeSecondFactor
	}
	snap.AttemptsRemaining = f.deps.Policy.MaxAttempts(purpose)
	if f.identity != "" {
		rec := f.deps.Ledger.Peek(purpose, f.identity)
		if f.deps.Policy.IsLocked(rec) {
			snap.Locked = true
			snap.LockedUntil = rec.LockedUntil
			snap.AttemptsRemaining = 0
		} else {
			snap.AttemptsRemaining = f.deps.Policy.AttemptsRemaining(rec, purpose)
		}
	}

	if f.countdown != nil {
		snap.Countdown = &CountdownState{
			RemainingSeconds: f.countdown.Remaining(),
			Fired:            f.countdown.Fired(),
			RecoveryPath:     f.deps.Config.RecoveryPath,
		}
	}

	return snap
}
