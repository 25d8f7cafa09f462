package convo

import (
	"strings"

	"clinic-frontdesk/internal/phone"
)

// intents.go holds the keyword detectors the flow runs over user
// messages.  Detection is deliberately simple: lowercase substring and
// token checks, no NLU.

var bookingKeywords = []string{
	"appointment", "book", "booking", "schedule", "visit",
	"see a doctor", "see the doctor", "consult", "checkup", "check-up",
}

var closingPhrases = []string{
	"goodbye", "good bye", "bye", "that's all", "thats all",
	"hang up", "end the call", "end call", "nothing else", "talk later",
}

var affirmativeWords = []string{
	"yes", "yeah", "yep", "yup", "sure", "ok", "okay",
	"correct", "confirm", "confirmed",
}

var affirmativePhrases = []string{"please do", "that's right", "go ahead", "sounds good"}

var negativeWords = []string{
	"no", "nope", "nah", "don't", "dont", "negative",
}

var negativePhrases = []string{"not yet", "not really", "not now"}

var selfPhrases = []string{
	"for me", "for myself", "myself", "my appointment", "it's for me",
	"its for me", "i need", "i want", "i'd like", "i would like",
}

var familyWords = []string{
	"mother", "father", "mom", "dad", "wife", "husband", "son",
	"daughter", "brother", "sister", "grandmother", "grandfather",
	"uncle", "aunt", "friend",
}

func hasBookingIntent(msg string) bool {
	return containsAny(msg, bookingKeywords)
}

func hasClosingIntent(msg string) bool {
	return containsAny(msg, closingPhrases)
}

func isAffirmative(msg string) bool {
	if containsAny(msg, affirmativePhrases) {
		return true
	}
	return hasToken(msg, affirmativeWords)
}

func isNegative(msg string) bool {
	if containsAny(msg, negativePhrases) {
		return true
	}
	return hasToken(msg, negativeWords)
}

// hasToken matches whole words only, so "book" never reads as "ok" and
// "know" never reads as "no".
func hasToken(msg string, words []string) bool {
	for _, tok := range strings.Fields(strings.ToLower(msg)) {
		tok = strings.Trim(tok, ".,!?;:'\"")
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func isForSelf(msg string) bool {
	return containsAny(msg, selfPhrases)
}

func isForFamily(msg string) bool {
	return hasToken(msg, familyWords)
}

// detectAskedField scans an assistant prompt for field keywords in the
// fixed priority order and returns the field it asked for, or "".
func detectAskedField(prompt string) string {
	t := strings.ToLower(prompt)
	for _, f := range registrationFields {
		if strings.Contains(t, f) {
			return f
		}
	}
	return ""
}

// extractPhone pulls a dialable number out of a message, if any.
func extractPhone(msg string) (string, bool) {
	var b strings.Builder
	for _, r := range msg {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	raw := b.String()
	if !phone.IsValid(raw) {
		return "", false
	}
	return phone.Normalize(raw), true
}

func containsAny(msg string, needles []string) bool {
	t := strings.ToLower(msg)
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}
