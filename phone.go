// Package leadveil hides spreadsheet rows for sales leads after repeated
// "call ended" telephony events, and unhides them when a per-tab cooldown
// expires. Lead rows are never written to except through row-visibility
// updates; all mutable state lives in auxiliary tabs of the same spreadsheet.
package leadveil

import "strings"

// NormalizePhone canonicalizes a raw phone string into an E.164-style key.
// Rules, applied in order:
//
//  1. Strip every character except digits and '+'.
//  2. If the result begins with '+' and has at least 8 characters, accept as-is.
//  3. If exactly 10 digits, prepend '+' and the default country code.
//  4. If exactly 11 digits starting with the default country code, prepend '+'.
//  5. Otherwise reject.
//
// Idempotent for accepted inputs: NormalizePhone(p) == p when p was itself
// produced by NormalizePhone.
func NormalizePhone(raw, defaultCountry string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	if strings.HasPrefix(s, "+") {
		if len(s) >= 8 {
			return s, true
		}
		return "", false
	}
	if defaultCountry == "" {
		defaultCountry = "1"
	}
	switch {
	case len(s) == 10:
		return "+" + defaultCountry + s, true
	case len(s) == 11 && strings.HasPrefix(s, defaultCountry):
		return "+" + s, true
	}
	return "", false
}
