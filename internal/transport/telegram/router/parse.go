package router

import (
	"strings"
	"unicode"
)

// parseCommand splits "/name@bot a b" into its command name, arguments and
// the raw argument text. isCmd is false for ordinary text.
func parseCommand(text string) (name string, args []string, raw string, isCmd bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", nil, "", false
	}
	word := text[1:]
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		raw = strings.TrimSpace(word[i:])
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	name = strings.ToLower(word)
	if name == "" {
		return "", nil, "", false
	}
	return name, strings.Fields(raw), raw, true
}
