package utils

import (
	"errors"
	"strings"

	"github.com/badoux/checkmail"
)

var (
	ErrEmailRequired   = errors.New("email is required")
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrDisposableEmail = errors.New("please use a permanent email address")
)

// disposableDomains lists throwaway email providers rejected at capture.
var disposableDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"guerrillamail.net": {},
	"sharklasers.com":   {},
	"10minutemail.com":  {},
	"10minutemail.net":  {},
	"temp-mail.org":     {},
	"tempmail.com":      {},
	"throwawaymail.com": {},
	"yopmail.com":       {},
	"yopmail.fr":        {},
	"getnada.com":       {},
	"maildrop.cc":       {},
	"dispostable.com":   {},
	"trashmail.com":     {},
	"fakeinbox.com":     {},
	"mailnesia.com":     {},
	"mintemail.com":     {},
	"mytemp.email":      {},
	"spamgourmet.com":   {},
}

// NormalizeEmail lowercases and trims an address. Always call before
// lookups so the same mailbox never splits into two leads.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmailAddress checks a normalized address: non-empty,
// local@domain.tld shape, and not a known disposable provider.
func ValidateEmailAddress(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return ErrInvalidEmail
	}
	if IsDisposableEmail(email) {
		return ErrDisposableEmail
	}
	return nil
}

// IsDisposableEmail reports whether the address belongs to a known
// throwaway provider.
func IsDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at == -1 {
		return false
	}
	_, ok := disposableDomains[strings.ToLower(email[at+1:])]
	return ok
}
