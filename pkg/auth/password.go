// Package auth implements the operator authentication substrate: password
// policy and hashing, signed access and refresh tokens with rotation, the
// bearer-token middleware, and role-based permission checks.
package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// BcryptCost is the work factor for stored password hashes.
const BcryptCost = 12

const specialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// commonPasswords is the embedded deny list. Matching is case-insensitive.
var commonPasswords = map[string]struct{}{
	"password": {}, "123456": {}, "123456789": {}, "qwerty": {},
	"abc123": {}, "password123": {}, "admin": {}, "letmein": {},
	"welcome": {}, "monkey": {}, "dragon": {}, "master": {},
}

// Requirements returns the full human-readable policy, in evaluation order.
func Requirements() []string {
	return []string{
		"must be between 8 and 128 characters",
		"must contain at least one uppercase letter",
		"must contain at least one lowercase letter",
		"must contain at least one digit",
		"must contain at least one special character (" + specialChars + ")",
		"must not repeat the same character more than twice in a row",
		"must not contain three sequential letters or digits (e.g. abc, 123)",
		"must not be a commonly used password",
	}
}

// ValidatePassword checks pw against the policy and returns a validation
// error listing every failed rule plus the full requirement list.
func ValidatePassword(pw string) error {
	var failed []string

	// The policy bounds characters, not bytes.
	if n := utf8.RuneCountInString(pw); n < 8 || n > 128 {
		failed = append(failed, "must be between 8 and 128 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	if !upper {
		failed = append(failed, "must contain at least one uppercase letter")
	}
	if !lower {
		failed = append(failed, "must contain at least one lowercase letter")
	}
	if !digit {
		failed = append(failed, "must contain at least one digit")
	}
	if !special {
		failed = append(failed, "must contain at least one special character ("+specialChars+")")
	}
	if hasTripleRepeat(pw) {
		failed = append(failed, "must not repeat the same character more than twice in a row")
	}
	if hasAscendingRun(pw) {
		failed = append(failed, "must not contain three sequential letters or digits (e.g. abc, 123)")
	}
	if _, common := commonPasswords[strings.ToLower(pw)]; common {
		failed = append(failed, "must not be a commonly used password")
	}

	if len(failed) == 0 {
		return nil
	}
	return errs.New(errs.KindValidation, "password does not meet requirements").
		WithDetails(map[string]any{"errors": failed, "requirements": Requirements()})
}

// hasTripleRepeat reports three or more identical characters in a row.
func hasTripleRepeat(pw string) bool {
	runes := []rune(pw)
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}

// hasAscendingRun reports a case-insensitive ascending run of three letters
// or three digits. Descending runs are allowed.
func hasAscendingRun(pw string) bool {
	runes := []rune(strings.ToLower(pw))
	for i := 2; i < len(runes); i++ {
		a, b, c := runes[i-2], runes[i-1], runes[i]
		letters := a >= 'a' && c <= 'z'
		digits := a >= '0' && c <= '9'
		if (letters || digits) && b == a+1 && c == b+1 {
			return true
		}
	}
	return false
}

// HashPassword hashes pw at the fixed cost. The plaintext is not policy
// checked here; callers validate first.
func HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), BcryptCost)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "auth: hash password", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether pw matches the stored hash.
func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
