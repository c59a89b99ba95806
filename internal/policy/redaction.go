// Package policy masks sensitive content before it reaches durable storage.
package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	mobilePattern = regexp.MustCompile(`1[3-9]\d{9}`)
)

// RedactPII masks emails, bank card numbers and mainland mobile numbers.
// Only the archived copy of a conversation is masked; replies are built
// from the original text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card redaction runs before mobile so a card number is not split into
	// a partial mobile match.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = mobilePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}
