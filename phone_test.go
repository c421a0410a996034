package leadveil

import "testing"

func TestNormalizePhone_FormattedUS(t *testing.T) {
	// WHAT: Punctuated US numbers collapse to +1 plus ten digits.
	// WHY: Telephony payloads carry display formatting we must not key on.
	got, ok := NormalizePhone("(415) 555-1212", "1")
	if !ok {
		t.Fatal("expected accept")
	}
	if got != "+14155551212" {
		t.Errorf("got %q, want %q", got, "+14155551212")
	}
}

func TestNormalizePhone_AlreadyE164(t *testing.T) {
	// WHAT: A +CC number of sufficient length passes through unchanged.
	// WHY: International leads must not get the default country prepended.
	got, ok := NormalizePhone("+442071838750", "1")
	if !ok || got != "+442071838750" {
		t.Errorf("got %q ok=%v, want passthrough", got, ok)
	}
}

func TestNormalizePhone_ElevenDigitsWithCountry(t *testing.T) {
	// WHAT: 11 digits starting with the default country code gain a '+'.
	// WHY: Providers sometimes send 1XXXXXXXXXX without the plus.
	got, ok := NormalizePhone("14155551212", "1")
	if !ok || got != "+14155551212" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}

func TestNormalizePhone_Reject(t *testing.T) {
	// WHAT: Short, empty, and non-phone inputs are rejected.
	// WHY: Rejected inputs mean "no phone", so the event is not countable.
	cases := []string{
		"",
		"555-1212",
		"+1234",
		"ext. 42",
		"12345678901234x", // 14 digits, no plus
	}
	for _, raw := range cases {
		if got, ok := NormalizePhone(raw, "1"); ok {
			t.Errorf("NormalizePhone(%q) = %q, want reject", raw, got)
		}
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	// WHAT: Normalizing an accepted output yields the same output.
	// WHY: Keys derived from events and keys derived from sheet cells must meet.
	inputs := []string{"(415) 555-1212", "+442071838750", "14155551212", "4155551212"}
	for _, raw := range inputs {
		once, ok := NormalizePhone(raw, "1")
		if !ok {
			t.Fatalf("NormalizePhone(%q) rejected", raw)
		}
		twice, ok := NormalizePhone(once, "1")
		if !ok {
			t.Fatalf("NormalizePhone(%q) rejected on second pass", once)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	}
}

func TestNormalizePhone_DefaultCountryApplied(t *testing.T) {
	// WHAT: The configured default country code is used for bare 10-digit numbers.
	// WHY: Deployments outside the US configure their own country code.
	got, ok := NormalizePhone("2071838750", "44")
	if !ok || got != "+442071838750" {
		t.Errorf("got %q ok=%v, want +442071838750", got, ok)
	}
}
