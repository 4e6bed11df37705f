package transcript

import (
	"html"
	"regexp"
	"strings"
)

var (
	// leftover structural characters from caption payloads
	bracketPattern = regexp.MustCompile(`[{}\[\]"]`)

	// inline timestamp ranges (e.g. "0:01:02.500 --> 0:01:04.000")
	timestampPattern = regexp.MustCompile(`\d+:\d+:\d+\.\d+ --> \d+:\d+:\d+\.\d+`)

	// runs of whitespace including newlines
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// joins subtitle cues into one cleaned plain-text string
func cleanCues(cues []cue) string {
	texts := make([]string, 0, len(cues))

	for _, c := range cues {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}

	return CleanText(strings.Join(texts, " "))
}

// normalizes raw subtitle text into a single clean line
func CleanText(raw string) string {
	// caption tracks frequently carry double-escaped entities
	text := html.UnescapeString(html.UnescapeString(raw))

	text = bracketPattern.ReplaceAllString(text, "")
	text = timestampPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")
	text = whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
