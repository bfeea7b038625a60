package common

import (
	"fmt"
	"strings"
	"unicode"

	apperrors "github.com/acme/sms-campaign-dispatch/pkg/errors"
)

// NormalizePhone canonicalizes a phone number to international form: a
// leading plus followed by 7 to 15 digits. Spaces, dashes, dots, and
// parentheses are stripped; anything else is rejected.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator, dropped
		default:
			return "", fmt.Errorf("%w: phone number %q contains invalid character", apperrors.ErrValidation, raw)
		}
	}

	normalized := b.String()
	if !strings.HasPrefix(normalized, "+") {
		return "", fmt.Errorf("%w: phone number must start with country code", apperrors.ErrValidation)
	}

	digits := len(normalized) - 1
	if digits < 7 || digits > 15 {
		return "", fmt.Errorf("%w: phone number must have 7 to 15 digits", apperrors.ErrValidation)
	}
	return normalized, nil
}
