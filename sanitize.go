package bookpipe

import (
	"regexp"
	"strings"
)

var (
	scriptBlockPattern  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlockPattern   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentPattern      = regexp.MustCompile(`(?s)<!--.*?-->`)
	unterminatedPattern = regexp.MustCompile(`(?is)(<(script|style)\b|<!--).*$`)
	strayClosePattern   = regexp.MustCompile(`(?i)</(script|style)\s*>`)
)

// Sanitize prepares an HTML fragment for rendering in the reader. It removes
// <script> and <style> blocks and comments, then collapses every run of
// whitespace into a single space and trims the result.
//
// Self-closing XHTML forms such as <script src="a.js"/> are empty elements
// and remove only themselves.
//
// Removal repeats until the input stops changing, so tags reassembled by an
// earlier removal (for example "<scr<script></script>ipt>") are caught too.
// An opening script/style tag or comment that is never closed swallows the
// rest of the input, as a browser would.
//
// Sanitize never fails and is safe for concurrent use.
func Sanitize(s string) string {
	for {
		prev := s
		s = expandSelfClosingRawTags(s)
		s = scriptBlockPattern.ReplaceAllString(s, "")
		s = styleBlockPattern.ReplaceAllString(s, "")
		s = commentPattern.ReplaceAllString(s, "")
		s = unterminatedPattern.ReplaceAllString(s, "")
		s = strayClosePattern.ReplaceAllString(s, "")
		if s == prev {
			break
		}
	}
	return normalizeSpace(s)
}

// normalizeSpace collapses whitespace runs to single spaces and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
