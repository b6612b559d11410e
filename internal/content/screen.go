package content

import (
	"regexp"
	"strings"
	"unicode"
)

// Patterns are compiled once at init and shared; regexp is safe for
// concurrent use.
var (
	// urlPattern matches http/https URLs, www. hosts and bare domains
	// on common TLDs. The bare-domain form requires a trailing "/" so
	// version strings like "v2.0" and prices like "3.50" don't match.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches common phone formats: +1-555-123-4567,
	// (555) 123-4567, 555.123.4567. Anchored to whitespace so item
	// numbers and short figures don't trip it.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// ScreenResult reports a policy hit on message text. Flagged messages
// are still delivered; moderation reviews them out of band.
type ScreenResult struct {
	Flagged bool
	Rule    string
	Reason  string
}

type screenCheck struct {
	rule   string
	reason string
	match  func(string) bool
}

// Ordered; the first hit wins. Off-platform contact detection comes
// first because it is the rule buyers and sellers actually try to
// evade.
var screenChecks = []screenCheck{
	{rule: "url", reason: "links to external sites", match: urlPattern.MatchString},
	{rule: "phone", reason: "shares a phone number", match: phonePattern.MatchString},
	{rule: "char_flood", reason: "character flooding", match: hasCharFlood},
	{rule: "word_flood", reason: "repeated word flooding", match: hasWordFlood},
}

// Screen runs the policy checks against message text.
func Screen(text string) ScreenResult {
	for _, sc := range screenChecks {
		if sc.match(text) {
			return ScreenResult{Flagged: true, Rule: sc.rule, Reason: sc.reason}
		}
	}
	return ScreenResult{}
}

// hasCharFlood reports 5 or more consecutive identical characters. RE2
// has no backreferences, so a linear scan does the job.
func hasCharFlood(text string) bool {
	const threshold = 5
	count := 0
	var prev rune
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same word 3 or more times in a row,
// case-insensitive.
func hasWordFlood(text string) bool {
	const threshold = 3
	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}
	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
