package entities

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// genericWords are capitalized nouns that transcripts and models mistake for
// named entities.
var genericWords = map[string]bool{
	"transfer": true, "post": true, "using": true, "make": true, "input": true,
	"call": true, "voice": true, "audio": true, "system": true, "record": true,
	"number": true, "file": true, "data": true, "process": true, "service": true,
	"application": true, "solution": true, "platform": true, "network": true,
	"security": true, "support": true, "management": true, "development": true,
	"implementation": true, "configuration": true, "integration": true,
}

var businessSuffixes = []string{"inc", "corp", "llc", "ltd", "company", "solutions", "systems", "services"}

var commonCompanyWords = map[string]bool{
	"meeting": true, "call": true, "team": true, "project": true, "client": true, "customer": true,
}

var commonTechnologyWords = map[string]bool{
	"email": true, "phone": true, "website": true, "document": true, "report": true, "presentation": true,
}

// Rejection reasons returned by FilterReason.
const (
	ReasonTooShort      = "too_short"
	ReasonGeneric       = "generic_word"
	ReasonBusinessTerm  = "business_term_in_person"
	ReasonAcronymPerson = "acronym_person"
	ReasonCommonNoun    = "common_noun"
)

// FilterReason returns why a mention is a likely false positive, or "" when
// it should be resolved.
func FilterReason(t Type, surface, normalized string) string {
	if utf8.RuneCountInString(normalized) < 2 {
		return ReasonTooShort
	}
	if genericWords[normalized] {
		return ReasonGeneric
	}
	switch t {
	case TypePerson:
		for _, word := range strings.Fields(normalized) {
			for _, suffix := range businessSuffixes {
				if word == suffix {
					return ReasonBusinessTerm
				}
			}
		}
		if isAllCaps(surface) {
			return ReasonAcronymPerson
		}
	case TypeCompany:
		if commonCompanyWords[normalized] {
			return ReasonCommonNoun
		}
	case TypeTechnology:
		if commonTechnologyWords[normalized] {
			return ReasonCommonNoun
		}
	}
	return ""
}

func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 1
}
