package markov

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits raw chat text into lowercase word tokens. Leading and
// trailing punctuation is stripped per word; tokens that are nothing but
// punctuation disappear. Invalid UTF-8 is replaced, never fatal, so the
// function is a pure, total mapping from any input string.
func Tokenize(text string) []string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(strings.ToLower(f), isPunct)
		if w == "" {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
