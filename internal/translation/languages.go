package translation

import "strings"

type languageLabel struct {
	english string
	chinese string
}

var translationLanguageLabels = map[string]languageLabel{
	"ar": {english: "Arabic", chinese: "阿拉伯语"},
	"de": {english: "German", chinese: "德语"},
	"en": {english: "English", chinese: "英语"},
	"es": {english: "Spanish", chinese: "西班牙语"},
	"fr": {english: "French", chinese: "法语"},
	"hi": {english: "Hindi", chinese: "印地语"},
	"id": {english: "Indonesian", chinese: "印度尼西亚语"},
	"it": {english: "Italian", chinese: "意大利语"},
	"ja": {english: "Japanese", chinese: "日语"},
	"ko": {english: "Korean", chinese: "韩语"},
	"pl": {english: "Polish", chinese: "波兰语"},
	"pt": {english: "Portuguese", chinese: "葡萄牙语"},
	"ru": {english: "Russian", chinese: "俄语"},
	"th": {english: "Thai", chinese: "泰语"},
	"tr": {english: "Turkish", chinese: "土耳其语"},
	"uk": {english: "Ukrainian", chinese: "乌克兰语"},
	"vi": {english: "Vietnamese", chinese: "越南语"},
	"zh": {english: "Chinese", chinese: "中文"},
}

// LanguageName returns the English name of an ISO 639-1 code, or the code
// itself when it is not known.
func LanguageName(code string) string {
	normalized := normalizeLangCode(code)
	if labels, ok := translationLanguageLabels[normalized]; ok {
		return labels.english
	}
	if trimmed := strings.TrimSpace(code); trimmed != "" {
		return trimmed
	}
	return "the source language"
}

func targetLanguageLabel(lang string) languageLabel {
	normalized := normalizeLangCode(lang)
	if labels, ok := translationLanguageLabels[normalized]; ok {
		return labels
	}
	fallback := strings.TrimSpace(lang)
	if fallback == "" {
		fallback = "English"
	}
	return languageLabel{english: fallback, chinese: fallback}
}

func isChineseLanguage(lang string) bool {
	return normalizeLangCode(lang) == "zh"
}

// normalizeLangCode reduces a tag like "en-US" or "zh_Hans" to its primary
// subtag. "und", blanks and non-alphabetic subtags become "".
func normalizeLangCode(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" || tag == "und" {
		return ""
	}
	for _, r := range tag {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return tag
}

// shouldSkipTranslation reports whether the source already is the target.
func shouldSkipTranslation(sourceLang, targetLang string) bool {
	source := normalizeLangCode(sourceLang)
	return source != "" && source == normalizeLangCode(targetLang)
}
