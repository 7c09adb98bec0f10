package textproc

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Words splits text into lower-cased runs of letters and digits.
func Words(text string) []string {
	lowered := cases.Lower(language.Und).String(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// CountWords tallies Words across texts.
func CountWords(texts ...string) map[string]int64 {
	counts := make(map[string]int64)
	for _, text := range texts {
		for _, word := range Words(text) {
			counts[word]++
		}
	}
	return counts
}
