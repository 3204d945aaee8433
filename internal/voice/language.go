package voice

import "strings"

const (
	LangAuto = "auto"
	LangEn   = "en"
	LangHi   = "hi"
	LangMr   = "mr"
)

// NormalizeLanguage maps selector values and locale tags ("mr-IN") to a
// logical language. Unknown or empty values become English.
func NormalizeLanguage(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	switch v {
	case LangAuto, LangEn, LangHi, LangMr:
		return v
	default:
		return LangEn
	}
}

// HasDevanagari reports whether s contains a rune in U+0900–U+097F.
func HasDevanagari(s string) bool {
	for _, r := range s {
		if r >= 0x0900 && r <= 0x097F {
			return true
		}
	}
	return false
}

// ResolveLanguage picks the query language. With the "auto" selection a
// transcript containing Devanagari is Hindi, anything else English.
func ResolveLanguage(selection, transcript string) string {
	lang := NormalizeLanguage(selection)
	if lang != LangAuto {
		return lang
	}
	if HasDevanagari(transcript) {
		return LangHi
	}
	return LangEn
}

// LocaleFor maps a logical language to its speech locale tag.
func LocaleFor(lang string) string {
	switch NormalizeLanguage(lang) {
	case LangHi:
		return "hi-IN"
	case LangMr:
		return "mr-IN"
	default:
		return "en-IN"
	}
}

// RecognitionLocale is the recognizer locale for a selector value; "auto"
// leaves the choice to the platform.
func RecognitionLocale(selection string) string {
	if NormalizeLanguage(selection) == LangAuto {
		return ""
	}
	return LocaleFor(selection)
}

// SelectVoice picks a synthesis voice for lang and the locale to tag the
// utterance with. Tiers, first match wins in installed order:
//  1. a voice for the language's own locale
//  2. for Marathi only, a Hindi voice (utterance retagged hi-IN)
//  3. any English voice (utterance keeps the requested locale)
//
// A nil voice means nothing matched and the platform default is used.
func SelectVoice(voices []Voice, lang string) (*Voice, string) {
	locale := LocaleFor(lang)
	if v := findVoice(voices, locale); v != nil {
		return v, locale
	}
	if NormalizeLanguage(lang) == LangMr {
		if v := findVoice(voices, "hi-IN"); v != nil {
			return v, "hi-IN"
		}
	}
	if v := findVoice(voices, "en"); v != nil {
		return v, locale
	}
	return nil, locale
}

func findVoice(voices []Voice, prefix string) *Voice {
	prefix = canonicalTag(prefix)
	for i := range voices {
		if strings.HasPrefix(canonicalTag(voices[i].Lang), prefix) {
			v := voices[i]
			return &v
		}
	}
	return nil
}

func canonicalTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}
