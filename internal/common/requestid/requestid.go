// Package requestid builds the per-request identifiers logged and echoed in
// X-Request-ID. Callers may supply their own ID; it is sanitised and prefixed
// with random characters so two callers reusing the same ID stay
// distinguishable in logs.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxLength caps the full ID at UUID length.
	MaxLength = 36
	// prefixLength is the random prefix prepended to caller-supplied IDs.
	prefixLength = 5
	// maxCustomLength leaves room for the prefix and its joining hyphen.
	maxCustomLength = MaxLength - prefixLength - 1
)

var (
	invalidChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-+`)
)

// New builds a request ID. A non-empty customID is sanitised to [a-zA-Z0-9-]
// (spaces become hyphens, hyphen runs collapse) and returned as
// {prefix}-{sanitised}, truncated to MaxLength. An empty or fully-stripped
// customID falls back to a fresh UUID.
func New(customID string) string {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = invalidChars.ReplaceAllString(sanitized, "")
	sanitized = hyphenRuns.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > maxCustomLength {
		sanitized = sanitized[:maxCustomLength]
	}
	return randomPrefix() + "-" + sanitized
}

func randomPrefix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return uuid.New().String()[:prefixLength]
	}
	return hex.EncodeToString(bytes)[:prefixLength]
}
