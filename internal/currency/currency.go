// Package currency provides shared amount parsing and formatting utilities.
//
// Booking amounts are carried as decimal strings with up to two fractional
// digits ("100", "49.50"). The payment processor expects integer minor units
// (cents), so "100" becomes 10000.
package currency

import (
	"strconv"
	"strings"
)

// Decimals is the number of fractional digits in a major-unit amount.
const Decimals = 2

// ToMinorUnits converts a decimal string (e.g. "100", "49.50") to integer
// minor units (10000, 4950). Returns (0, false) on invalid input.
//
// Rules:
//   - Empty string is rejected (an amount must be explicit)
//   - Signs are rejected, including the ParseInt-tolerated leading "+"
//   - More than one decimal point is rejected
//   - Fractional parts longer than two digits are rejected, not rounded
func ToMinorUnits(s string) (int64, bool) {
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return 0, false
	}
	if len(frac) > Decimals {
		return 0, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FromMinorUnits converts integer minor units to a decimal string with
// exactly two fractional digits (10000 -> "100.00").
func FromMinorUnits(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	cut := len(s) - Decimals
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

// IsValid reports whether s parses as a positive amount.
func IsValid(s string) bool {
	n, ok := ToMinorUnits(s)
	return ok && n > 0
}
