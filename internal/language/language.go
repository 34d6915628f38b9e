package language

import (
	"fmt"
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto is accepted as an explicit request for service-side detection.
const Auto = "auto"

// wordForms maps English language names that operators commonly type into
// configuration. Codes are resolved by x/text.
var wordForms = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// bibliographic holds the ISO 639-2/B codes that x/text does not canonicalize.
var bibliographic = map[string]string{
	"fre": "fr",
	"ger": "de",
	"chi": "zh",
	"dut": "nl",
}

// Normalize returns the ISO 639-1 code for value. Empty input and "auto"
// yield "" so the transcription service detects the language itself.
func Normalize(value string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(value))
	if code == "" || code == Auto {
		return "", nil
	}
	if mapped, ok := wordForms[code]; ok {
		return mapped, nil
	}
	if mapped, ok := bibliographic[code]; ok {
		return mapped, nil
	}
	// Region tags such as en-US collapse to their base language.
	base, err := xlanguage.ParseBase(strings.SplitN(strings.ReplaceAll(code, "_", "-"), "-", 2)[0])
	if err != nil {
		return "", fmt.Errorf("unknown language %q", value)
	}
	return base.String(), nil
}

// ToISO2 is Normalize without the error; unknown values come back lowercased.
func ToISO2(value string) string {
	code, err := Normalize(value)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return code
}

// DisplayName returns the English name of a language code, or the code
// itself when it is not recognized.
func DisplayName(code string) string {
	normalized, err := Normalize(code)
	if err != nil || normalized == "" {
		return code
	}
	base, err := xlanguage.ParseBase(normalized)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(base)
	if name == "" {
		return code
	}
	return name
}
