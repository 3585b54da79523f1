package conversation

import "strings"

const (
	titleMaxWords = 6
	titleMaxRunes = 50
	titleEllipsis = "…"
)

// DeriveTitle labels a session from its first user message: the first six words,
// cut to 50 characters with an ellipsis when longer.
func DeriveTitle(firstMessage string) string {
	words := strings.Fields(firstMessage)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")

	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + titleEllipsis
	}
	return title
}
