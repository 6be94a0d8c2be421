package orchestrator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s/$.?#].[^\s]*`)
	emojiPattern = regexp.MustCompile(`<a?:(\w+):\d+>`)
)

// Shape turns raw message text into what should be spoken: links are
// removed, custom emoji markup such as <:pog:123> or <a:wave:456> becomes
// its name, and surrounding whitespace is trimmed.
func Shape(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = emojiPattern.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// Truncate cuts text to at most limit runes. It reports whether anything
// was cut. limit <= 0 means no limit.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i], true
		}
		n++
	}
	return text, false
}
