package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Covers both NANP numbers and Brazilian mobile formats like
	// +55 (11) 99999-0000.
	phoneNANPRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	phoneBRRe   = regexp.MustCompile(`\+?55[-.\s]?\(?[0-9]{2}\)?[-.\s]?9?[0-9]{4}[-.\s]?[0-9]{4}`)
)

// HashAddress returns the hex-encoded SHA-256 hash of a channel address.
func HashAddress(address string) string {
	h := sha256.Sum256([]byte(address))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneBRRe.ReplaceAllString(text, "[PHONE]")
	text = phoneNANPRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// ScrubTurns applies PII scrubbing to all turns in-place.
func ScrubTurns(turns []TurnRecord) {
	for i := range turns {
		turns[i].Text = ScrubPII(turns[i].Text)
	}
}
