package entities

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true,
	"prof": true, "sir": true, "madam": true,
}

// Normalize reduces a surface form to its comparison key: accents and
// combining marks removed, case folded, honorifics and punctuation dropped,
// whitespace collapsed.
func Normalize(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	folded := cases.Fold().String(stripped)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	out := fields[:0]
	for i, field := range fields {
		if i == 0 && len(fields) > 1 && honorifics[field] {
			continue
		}
		out = append(out, field)
	}
	return strings.Join(out, " ")
}

// acronymRunes is the longest all-caps word kept as an acronym.
const acronymRunes = 4

// CanonicalName produces the display form for a new entity. Words are
// title-cased unless they are short acronyms ("AWS") or already mixed case
// ("GraphQL").
func CanonicalName(surface string) string {
	surface = strings.TrimRight(strings.Join(strings.Fields(surface), " "), ".,;:")
	if surface == "" {
		return ""
	}
	title := cases.Title(language.English)
	words := strings.Fields(surface)
	for i, word := range words {
		if isAcronym(word) || hasMixedCase(word) {
			continue
		}
		words[i] = title.String(word)
	}
	return strings.Join(words, " ")
}

func isAcronym(word string) bool {
	letters := 0
	for _, r := range word {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters > 0 && letters <= acronymRunes
}

// hasMixedCase reports whether a word has an upper-case rune after a
// lower-case one, as in "iPhone" or "GraphQL".
func hasMixedCase(word string) bool {
	seenLower := false
	for _, r := range word {
		if unicode.IsLower(r) {
			seenLower = true
			continue
		}
		if seenLower && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// bucket is the lock partition for a normalized name.
func bucket(t Type, normalized string) string {
	for _, r := range normalized {
		return string(t) + ":" + string(r)
	}
	return string(t) + ":"
}
