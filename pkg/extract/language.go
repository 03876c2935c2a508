package extract

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Languages the detector distinguishes. Restricting the set keeps the
// model footprint small and the detection fast.
var detectorLanguages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
}

var detector = lingua.NewLanguageDetectorBuilder().
	FromLanguages(detectorLanguages...).
	Build()

// DetectLanguage returns the ISO 639-1 code of the text's language, or
// empty when the text is too short or ambiguous.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if len(text) < 20 {
		return ""
	}
	// Long documents don't sharpen detection; a prefix is plenty.
	if len(text) > 2000 {
		text = text[:2000]
	}
	lang, ok := detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
