package agent

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Sanitize strips meta-markup from text destined for the end user: hidden
// reasoning blocks, code fences, and runs of whitespace. Idempotent.
func Sanitize(text string) string {
	text = thinkBlockRe.ReplaceAllString(text, "")
	text = codeFenceRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
