// Package ledger tracks failed verification attempts per (purpose, identity)
// pair in a session-scoped key-value store. It is a UX accelerant in front
// of the upstream identity service's own throttling, not a security
// boundary, so every storage fault degrades to "never attempted" rather
// than blocking the caller.
package ledger

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/okellodev/authgate/internal/models"
	"github.com/okellodev/authgate/internal/policy"
)

// Ledger records and reads attempt counts. Callers must treat every read as
// subject to lazy expiry: a record whose lock window has elapsed reads as
// absent and is cleared as a side effect.
type Ledger struct {
	store  KVStore
	cfg    policy.Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger on top of the given store.
func New(store KVStore, cfg policy.Config, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RecordFailure increments the count for the pair, starting a fresh record
// if none exists or the prior lock window has elapsed. Reaching the
// purpose's maximum stamps the lock. Storage faults fail open with a
// single-attempt record.
func (l *Ledger) RecordFailure(purpose models.Purpose, identity string) models.AttemptRecord {
	key := models.LedgerKey(purpose, identity)
	rec := models.AttemptRecord{FirstAttemptAt: l.now()}

	raw, ok, err := l.store.Get(key)
	if err != nil {
		l.logger.Warn("attempt store read failed, failing open", slog.Any("error", err))
		return models.AttemptRecord{Attempts: 1, FirstAttemptAt: l.now()}
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			l.logger.Warn("attempt record corrupt, failing open", slog.Any("error", err))
			return models.AttemptRecord{Attempts: 1, FirstAttemptAt: l.now()}
		}
	}

	// A matured lock restarts the count rather than stacking on it.
	if rec.LockedUntil != nil && l.now().After(*rec.LockedUntil) {
		rec = models.AttemptRecord{FirstAttemptAt: l.now()}
	}

	rec.Attempts++
	if rec.Attempts >= l.maxFor(purpose) {
		lockedUntil := l.now().Add(l.cfg.LockoutTTL)
		rec.LockedUntil = &lockedUntil
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		l.logger.Warn("attempt record marshal failed, failing open", slog.Any("error", err))
		return models.AttemptRecord{Attempts: 1, FirstAttemptAt: l.now()}
	}
	if err := l.store.Set(key, string(encoded)); err != nil {
		l.logger.Warn("attempt store write failed, failing open", slog.Any("error", err))
		return models.AttemptRecord{Attempts: 1, FirstAttemptAt: l.now()}
	}

	return rec
}

// Peek returns the current record for the pair, or nil when there is none.
// An elapsed lock reads as nil and removes the record.
func (l *Ledger) Peek(purpose models.Purpose, identity string) *models.AttemptRecord {
	key := models.LedgerKey(purpose, identity)

	raw, ok, err := l.store.Get(key)
	if err != nil {
		l.logger.Warn("attempt store read failed, failing open", slog.Any("error", err))
		return nil
	}
	if !ok {
		return nil
	}

	var rec models.AttemptRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		l.logger.Warn("attempt record corrupt, failing open", slog.Any("error", err))
		_ = l.store.Remove(key)
		return nil
	}

	if rec.LockedUntil != nil && l.now().After(*rec.LockedUntil) {
		_ = l.store.Remove(key)
		return nil
	}

	return &rec
}

// Clear removes the record unconditionally. Called when verification for
// the purpose succeeds.
func (l *Ledger) Clear(purpose models.Purpose, identity string) {
	if err := l.store.Remove(models.LedgerKey(purpose, identity)); err != nil {
		l.logger.Warn("attempt store remove failed", slog.Any("error", err))
	}
}

func (l *Ledger) maxFor(purpose models.Purpose) int {
	if purpose == models.PurposeSecondFactor {
		return l.cfg.MaxSecondFactorAttempts
	}
	return l.cfg.MaxPasswordAttempts
}
