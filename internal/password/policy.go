package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinLength is the password policy floor, counted in runes.
const MinLength = 12

// PolicyError lists every policy requirement a candidate password failed,
// so callers can report all of them in one response.
type PolicyError struct {
	Failures []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Failures, "; ")
}

// ValidatePolicy checks a candidate password against the account policy:
// at least MinLength characters with an upper-case letter, a lower-case
// letter, a digit and a symbol. Registration and reset both enforce it;
// login never does, so accounts created under older policies can still
// sign in.
func ValidatePolicy(password string) error {
	var e PolicyError
	if utf8.RuneCountInString(password) < MinLength {
		e.Failures = append(e.Failures, "must be at least 12 characters")
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper {
		e.Failures = append(e.Failures, "must contain an upper-case letter")
	}
	if !lower {
		e.Failures = append(e.Failures, "must contain a lower-case letter")
	}
	if !digit {
		e.Failures = append(e.Failures, "must contain a digit")
	}
	if !symbol {
		e.Failures = append(e.Failures, "must contain a symbol")
	}

	if len(e.Failures) > 0 {
		return &e
	}
	return nil
}
