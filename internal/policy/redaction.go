// Package policy scrubs visitor speech before it leaves the kiosk.
package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	aadhaarPattern = regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}\b`)
)

const maxEventText = 280

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before Aadhaar and phone; both patterns match card prefixes.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = aadhaarPattern.ReplaceAllString(out, "[REDACTED_ID]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// ScrubTranscript redacts a visitor utterance for logs and events and caps
// its length.
func ScrubTranscript(text string) string {
	out, _ := RedactPII(strings.TrimSpace(text))
	if r := []rune(out); len(r) > maxEventText {
		out = string(r[:maxEventText]) + "…"
	}
	return out
}
