// Package analysis groups item error messages that differ only in
// identifiers, addresses, numbers or timestamps.
package analysis

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init.
var (
	reItemPrefix = regexp.MustCompile(`^item \S+: `)
	reDatetime   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	reNumber     = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

const (
	maxNormalized = 500
	maxSample     = 2000
)

// ErrorGroup is a set of item errors sharing one fingerprint.
type ErrorGroup struct {
	Fingerprint string `json:"fingerprint"`
	Count       int    `json:"count"`
	Sample      string `json:"sample"`
}

// GroupErrors buckets messages by Fingerprint. Groups are sorted by Count
// descending, then by Sample. The first message seen in a group is its sample.
// Returns an empty slice for empty input (never nil).
func GroupErrors(messages []string) []ErrorGroup {
	if len(messages) == 0 {
		return []ErrorGroup{}
	}

	groups := make(map[string]*ErrorGroup)
	for _, msg := range messages {
		fp := Fingerprint(msg)
		g, ok := groups[fp]
		if !ok {
			g = &ErrorGroup{Fingerprint: fp, Sample: truncateString(msg, maxSample)}
			groups[fp] = g
		}
		g.Count++
	}

	out := make([]ErrorGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sample < out[j].Sample
	})
	return out
}

// Fingerprint computes a stable SHA-256 fingerprint for an error message.
func Fingerprint(message string) string {
	hash := sha256.Sum256([]byte(NormalizeMessage(message)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeMessage applies all normalization rules to an error message.
func NormalizeMessage(msg string) string {
	msg = reItemPrefix.ReplaceAllString(msg, "")
	msg = reDatetime.ReplaceAllString(msg, "TIME")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reBracketNum.ReplaceAllString(msg, "[N]")
	msg = reParenNum.ReplaceAllString(msg, "(N)")
	msg = reNumber.ReplaceAllString(msg, "N")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	return truncateString(msg, maxNormalized)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
