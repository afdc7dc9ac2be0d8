// Package detector classifies fetched pages that are bot walls, paywalls, or
// login gates served with a success status.
package detector

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

// DefaultPhrases are the lower-case markers of common block pages.
var DefaultPhrases = []string{
	"cloudflare",
	"cf-browser-verification",
	"attention required",
	"checking your browser",
	"checking if the site connection is secure",
	"just a moment",
	"ray id",
	"captcha",
	"verify you are human",
	"are you a robot",
	"unusual traffic",
	"security check",
	"access denied",
	"please enable javascript",
	"enable cookies",
	"subscribe to read",
	"subscribe to continue",
	"members only",
	"premium content",
	"paywall",
	"sign in to continue",
	"log in to continue",
	"create a free account to continue",
	"no longer available",
}

// Defaults for the classification thresholds.
const (
	DefaultMinMatches        = 2
	DefaultShortContentChars = 1000
)

// SoftBlock implements fetch.SoftBlockDetector with phrase counting.
type SoftBlock struct {
	phrases           []string
	minMatches        int
	shortContentChars int
}

// New builds a detector. Empty phrases select DefaultPhrases and
// non-positive thresholds select the defaults.
func New(phrases []string, minMatches, shortContentChars int) *SoftBlock {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	lower := make([]string, 0, len(phrases))
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		lower = append(lower, p)
	}
	if minMatches <= 0 {
		minMatches = DefaultMinMatches
	}
	if shortContentChars <= 0 {
		shortContentChars = DefaultShortContentChars
	}
	return &SoftBlock{phrases: lower, minMatches: minMatches, shortContentChars: shortContentChars}
}

// NewDefault returns a detector with the built-in phrase list.
func NewDefault() *SoftBlock {
	return New(nil, 0, 0)
}

// IsSoftBlock reports whether text looks like a block page. Rules apply in order:
// enough distinct phrase hits; any hit on short content; any hit on a 403/404.
func (d *SoftBlock) IsSoftBlock(text string, status int) bool {
	if text == "" {
		return false
	}
	matches := d.Matches(text)
	switch {
	case matches >= d.minMatches:
		return true
	case matches >= 1 && utf8.RuneCountInString(text) < d.shortContentChars:
		return true
	case matches >= 1 && (status == http.StatusForbidden || status == http.StatusNotFound):
		return true
	default:
		return false
	}
}

// Matches counts distinct phrases present in text, case-insensitively.
func (d *SoftBlock) Matches(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, phrase := range d.phrases {
		if strings.Contains(lower, phrase) {
			count++
		}
	}
	return count
}
