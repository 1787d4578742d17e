// Package langdetect guesses the language of article titles so translation
// does not depend on the feed's declared language alone.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth detecting; shorter titles fall
// back to the feed language.
const minLetters = 6

// feedLanguages covers the languages of the configured news sources.
var feedLanguages = []lingua.Language{
	lingua.English,
	lingua.Korean,
	lingua.Japanese,
	lingua.Chinese,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Russian,
	lingua.Arabic,
	lingua.Hindi,
	lingua.Turkish,
	lingua.Indonesian,
	lingua.Vietnamese,
	lingua.Ukrainian,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two-letter code of text, or "" when the sample
// is too short or no language is reliable.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(feedLanguages...).
			Build()
	})
	return detector
}
