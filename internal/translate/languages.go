package translate

import "strings"

// DefaultTargetLanguage is used when a session does not name a target
const DefaultTargetLanguage = "zh"

var languageNames = map[string]string{
	"zh": "中文",
	"en": "English",
	"ja": "日本語",
	"ko": "한국어",
	"fr": "Français",
	"de": "Deutsch",
	"es": "Español",
}

// LanguageName returns the display name used in the translation prompt.
// Unknown codes fall back to the default target language.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	return languageNames[DefaultTargetLanguage]
}

// IsKnownLanguage reports whether code has a display name
func IsKnownLanguage(code string) bool {
	_, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]
	return ok
}
