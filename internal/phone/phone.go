// Package phone normalizes user-entered phone numbers to E.164.
package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/carelink/carelink/internal/apperr"
)

// Normalize parses raw and returns it in E.164 form. Numbers written without
// an international prefix are read in the region of defaultCountryCode, so
// national prefixes and trunk codes are handled per region.
func Normalize(raw, defaultCountryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.Invalid("phone", "phone number is required")
	}

	num, err := phonenumbers.Parse(s, regionFor(defaultCountryCode))
	if err != nil {
		return "", apperr.Invalid("phone", "phone number could not be parsed")
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", apperr.Invalid("phone", "phone number has an invalid length for its region")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// regionFor maps a calling code such as "1" or "+44" to its main region.
func regionFor(countryCode string) string {
	cc, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(countryCode), "+"))
	if err != nil {
		return phonenumbers.UNKNOWN_REGION
	}
	return phonenumbers.GetRegionCodeForCountryCode(cc)
}

// Mask hides all but the last four digits, for logs.
func Mask(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
