package common

import (
	"errors"
	"testing"

	apperrors "github.com/acme/sms-campaign-dispatch/pkg/errors"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15551234567", "+15551234567"},
		{"  +1 555 123 4567 ", "+15551234567"},
		{"+1-555-123-4567", "+15551234567"},
		{"+1 (555) 123.4567", "+15551234567"},
		{"+441632960001", "+441632960001"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Errorf("NormalizePhone(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhoneRejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"missing plus", "15551234567"},
		{"plus not leading", "1+5551234567"},
		{"letters", "+1555CALLNOW"},
		{"too short", "+123456"},
		{"too long", "+1234567890123456"},
	}
	for _, tc := range cases {
		if _, err := NormalizePhone(tc.in); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("%s: expected validation error for %q, got %v", tc.name, tc.in, err)
		}
	}
}
