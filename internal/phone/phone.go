// Package phone canonicalizes phone numbers into E.164-shaped strings and
// enumerates the plausible international representations of an ambiguous
// national number.  The clinic serves callers dialing from Indian (+91) and
// US (+1) numbers, and historical records store the same line in whichever
// format the upstream system happened to use, so equality is defined as
// overlap between variation sets rather than string equality.
package phone

import "strings"

// Normalize returns the canonical E.164-shaped form of a raw number.
// A number that already carries a leading + is passed through with
// non-digits stripped.  Bare 10-digit numbers are ambiguous; the
// leading-digit heuristic assumes India for mobiles starting 6-9 and the
// US otherwise.  Use Variations when a lookup needs to probe both.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "+") {
		return "+" + digitsOf(trimmed)
	}
	digits := digitsOf(trimmed)
	switch {
	case len(digits) == 10:
		if digits[0] >= '6' && digits[0] <= '9' {
			return "+91" + digits
		}
		return "+1" + digits
	case len(digits) == 11 && (strings.HasPrefix(digits, "1") || strings.HasPrefix(digits, "91")):
		return "+" + digits
	case len(digits) == 12 && (strings.HasPrefix(digits, "91") || strings.HasPrefix(digits, "1")):
		return "+" + digits
	default:
		// Best effort for anything else.
		return "+" + digits
	}
}

// Variations returns every plausible canonical form of raw, in probe order.
// For a bare 10-digit number both region candidates are returned, India
// first; every other shape has exactly one candidate.
func Variations(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "+") {
		digits := digitsOf(trimmed)
		if len(digits) == 10 {
			return []string{"+91" + digits, "+1" + digits}
		}
	}
	return []string{Normalize(raw)}
}

// IsValid reports whether raw carries enough digits to be a dialable
// number (10 to 15 digits, the E.164 ceiling).
func IsValid(raw string) bool {
	n := len(digitsOf(raw))
	return n >= 10 && n <= 15
}

// Equal reports whether two raw numbers can refer to the same physical
// line, i.e. whether their variation sets overlap.  This makes a match
// succeed regardless of which format was recorded historically.
func Equal(a, b string) bool {
	for _, va := range Variations(a) {
		for _, vb := range Variations(b) {
			if va == vb {
				return true
			}
		}
	}
	return false
}

func digitsOf(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
