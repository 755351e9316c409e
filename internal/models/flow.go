package models

import (
	"regexp"
	"strings"
)

// Phase is the current step of the login flow.
type Phase string

const (
	PhaseEmail        Phase = "email"
	PhasePassword     Phase = "password"
	PhaseSecondFactor Phase = "second_factor"
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	codePattern  = regexp.MustCompile(`^[0-9]{6}$`)
)

// NormalizeIdentity folds an email address into the canonical form used as
// the cross-phase correlation key and for all ledger lookups.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the string looks like an email address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidCode reports whether the string is a well-formed 6-digit code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
