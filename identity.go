package docauth

import (
	"net/mail"
	"strings"
)

const (
	minMobileDigits = 7
	maxMobileDigits = 15
	maxEmailLength  = 254
)

// NormalizeEmail lower-cases and trims email and checks that it is a bare
// address (no display name, no angle brackets).
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizeMobile strips common separators and returns the number as an
// optional leading '+' followed by 7 to 15 digits.
func NormalizeMobile(mobile string) (string, error) {
	mobile = strings.TrimSpace(mobile)

	var b strings.Builder
	b.Grow(len(mobile))
	digits := 0
	for i, r := range mobile {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", ErrInvalidIdentity
		}
	}

	if digits < minMobileDigits || digits > maxMobileDigits {
		return "", ErrInvalidIdentity
	}
	return b.String(), nil
}

// NormalizeIdentity canonicalizes a login key, which is either an email or a
// mobile number.
func NormalizeIdentity(identity string) (string, error) {
	if strings.Contains(identity, "@") {
		email, err := NormalizeEmail(identity)
		if err != nil {
			return "", ErrInvalidIdentity
		}
		return email, nil
	}
	return NormalizeMobile(identity)
}
