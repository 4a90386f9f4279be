package credentials

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// Mask hides a secret for display: the first and last four characters stay
// visible, everything between becomes '*'. Secrets of eight characters or
// fewer are masked entirely.
func Mask(secret string) string {
	n := utf8.RuneCountInString(secret)
	if n == 0 {
		return ""
	}
	if n <= 8 {
		return strings.Repeat("*", n)
	}
	r := []rune(secret)
	return string(r[:4]) + strings.Repeat("*", n-8) + string(r[n-4:])
}

// Fingerprint returns a short stable identifier of a secret for log lines.
// The secret itself must never be logged.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(secret))[:12]
}
