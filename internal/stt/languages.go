package stt

import "strings"

// whisperLanguages are the ISO codes Whisper accepts as a language hint
var whisperLanguages = map[string]struct{}{}

func init() {
	for _, code := range strings.Fields(`
		af am ar as az ba be bg bn bo br bs ca cs cy da de el en es et eu fa fi fo fr
		gl gu ha haw he hi hr ht hu hy id is it ja jv ka kk km kn ko la lb ln lo lt lv
		mg mi mk ml mn mr ms mt my ne nl nn no oc pa pl ps pt ro ru sa sd si sk sl sn so
		sq sr su sv sw ta te tg th tk tl tr tt uk ur uz vi yi yo yue zh`) {
		whisperLanguages[code] = struct{}{}
	}
}

// IsSupportedLanguage reports whether code can be forwarded as a transcription hint.
// Unsupported hints fall back to automatic language detection.
func IsSupportedLanguage(code string) bool {
	_, ok := whisperLanguages[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// SupportedHint returns the normalized hint, or "" when it should be dropped
func SupportedHint(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if !IsSupportedLanguage(code) {
		return ""
	}
	return code
}
