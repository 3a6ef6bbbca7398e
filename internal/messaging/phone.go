package messaging

import (
	"fmt"
	"strings"

	"github.com/garagedesk/notify/internal/models"
)

// trunkPrefixes maps country-code digits to the national trunk prefix that
// must be stripped before building the international number. Countries not
// listed keep their national number as dialed (e.g. US/Canada "1").
var trunkPrefixes = map[string]string{
	"27": "0", // South Africa
	"31": "0", // Netherlands
	"33": "0", // France
	"34": "0", // Spain
	"41": "0", // Switzerland
	"43": "0", // Austria
	"44": "0", // United Kingdom
	"46": "0", // Sweden
	"48": "0", // Poland
	"49": "0", // Germany
	"61": "0", // Australia
	"64": "0", // New Zealand
	"91": "0", // India
}

const (
	minE164Digits = 8
	maxE164Digits = 15
)

// NormalizePhone converts a national phone number plus country code into a
// digits-only E.164 number (no leading +). A phone that already starts with
// "+" is treated as international and only bound-checked. Returns
// models.ErrInvalidPhoneNumber when the result falls outside the 8-15 digit
// E.164 bound or no digits remain after cleanup.
func NormalizePhone(phone, countryCode string) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(phone), "+") {
		full := digitsOnly(phone)
		return boundCheck(full, phone)
	}

	cc := digitsOnly(countryCode)
	if cc == "" {
		return "", fmt.Errorf("country code %q has no digits: %w", countryCode, models.ErrInvalidPhoneNumber)
	}
	national := digitsOnly(phone)
	if national == "" {
		return "", fmt.Errorf("phone %q has no digits: %w", phone, models.ErrInvalidPhoneNumber)
	}
	if trunk, ok := trunkPrefixes[cc]; ok {
		if strings.HasPrefix(national, trunk) && len(national) > len(trunk) {
			national = national[len(trunk):]
		}
	}
	return boundCheck(cc+national, phone)
}

func boundCheck(full, original string) (string, error) {
	if len(full) < minE164Digits || len(full) > maxE164Digits {
		return "", fmt.Errorf("phone %q normalizes to %d digits, outside %d-%d: %w",
			original, len(full), minE164Digits, maxE164Digits, models.ErrInvalidPhoneNumber)
	}
	return full, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
