// Package detector identifies the language of a text with lingua-go.
package detector

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
)

// DefaultLanguages are the candidates considered when New gets none. Keeping
// the set small makes detection on short passages more reliable.
var DefaultLanguages = []lingua.Language{
	lingua.Spanish,
	lingua.English,
	lingua.Catalan,
	lingua.Basque,
	lingua.Portuguese,
	lingua.French,
	lingua.Italian,
	lingua.German,
}

// Detector builds its lingua models on first use; building is expensive, so
// share one instance.
type Detector struct {
	languages []lingua.Language

	once     sync.Once
	detector lingua.LanguageDetector
}

func New(languages ...lingua.Language) *Detector {
	if len(languages) < 2 {
		languages = DefaultLanguages
	}
	return &Detector{languages: languages}
}

func (d *Detector) build() {
	d.detector = lingua.NewLanguageDetectorBuilder().
		FromLanguages(d.languages...).
		Build()
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if strings.TrimSpace(text) == "" {
		return lingua.Unknown, false
	}
	d.once.Do(d.build)
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lowercase ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
