package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// folder maps compatibility forms to canonical ones, strips combining
// marks and lower-cases.
var folder = transform.Chain(
	norm.NFKC,
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	cases.Lower(language.Und),
	norm.NFC,
)

// NormalizeText lower-cases input and folds accents, so "Crème" matches "creme".
func NormalizeText(input string) string {
	if input == "" {
		return ""
	}
	out, _, err := transform.String(folder, input)
	if err != nil {
		return strings.ToLower(input)
	}
	return out
}

// ContainsAny returns the first term found in the normalized content.
func ContainsAny(content string, terms []string) (string, bool) {
	normalized := NormalizeText(content)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(normalized, NormalizeText(term)) {
			return term, true
		}
	}
	return "", false
}

// UpperShare returns the number of letters in input and the percentage of
// them that are upper case.
func UpperShare(input string) (letters int, percent int) {
	upper := 0
	for _, r := range input {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0, 0
	}
	return letters, upper * 100 / letters
}
