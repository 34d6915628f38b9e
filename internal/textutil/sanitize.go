package textutil

import "strings"

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"#", "",
	"[", "",
	"]", "",
	"^", "",
)

// maxFileNameRunes caps note titles used as file names.
const maxFileNameRunes = 120

// SanitizeFileName makes a note title safe to use as a file name. Link
// syntax characters are removed as well as filesystem-unsafe ones.
func SanitizeFileName(name string) string {
	name = strings.Join(strings.Fields(fileNameReplacer.Replace(name)), " ")
	runes := []rune(name)
	if len(runes) > maxFileNameRunes {
		name = strings.TrimSpace(string(runes[:maxFileNameRunes]))
	}
	return strings.Trim(name, ". ")
}
