package bookpipe

import (
	"regexp"
	"strings"
)

const (
	// WordsPerMinute is the fixed reading speed used for every reading time
	// figure, chapter-level and book-level alike.
	WordsPerMinute = 200

	// WordsPerPage approximates a printed page.
	WordsPerPage = 250
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// CountWords strips all tags from an HTML fragment and counts the remaining
// whitespace-separated tokens.
func CountWords(html string) int {
	return len(strings.Fields(tagPattern.ReplaceAllString(html, "")))
}

// EstimateMinutes returns ceil(words / WordsPerMinute).
func EstimateMinutes(words int) int {
	return ceilDiv(words, WordsPerMinute)
}

// EstimatePages returns ceil(words / WordsPerPage).
func EstimatePages(words int) int {
	return ceilDiv(words, WordsPerPage)
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
