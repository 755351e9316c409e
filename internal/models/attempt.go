package models

import (
	"fmt"
	"strings"
	"time"
)

// Purpose partitions the attempt ledger independently of identity. The
// string value doubles as the ledger key prefix.
type Purpose string

const (
	PurposePassword     Purpose = "bf_attempts"
	PurposeSecondFactor Purpose = "mfa_attempts"
)

// AttemptRecord tracks failed verification attempts for one
// (purpose, identity) pair within the current lock window.
type AttemptRecord struct {
	Attempts       int        `json:"attempts"`
	FirstAttemptAt time.Time  `json:"first_attempt_at"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// LedgerKey builds the storage key for a (purpose, identity) pair.
func LedgerKey(purpose Purpose, identity string) string {
	return fmt.Sprintf("%s:%s", purpose, strings.ToLower(identity))
}
