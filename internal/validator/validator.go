// Package validator checks that rewritten text is still in the document's
// language.
package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// minValidationLength is the minimum rune count required to attempt language
// detection. Shorter texts are accepted without validation.
const minValidationLength = 20

// LanguageDetector is satisfied by *detector.Detector.
type LanguageDetector interface {
	DetectISO(text string) (string, bool)
}

type Validator struct {
	det LanguageDetector
}

func New(det LanguageDetector) *Validator {
	return &Validator{det: det}
}

// CheckLanguage returns true when text appears to be written in lang.
//
// An empty lang, short texts and texts whose language cannot be determined
// pass. A mismatch returns false and an error naming both codes.
func (v *Validator) CheckLanguage(text, lang string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, fmt.Errorf("text is empty")
	}
	if lang == "" || v.det == nil {
		return true, nil
	}
	if utf8.RuneCountInString(text) < minValidationLength {
		return true, nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return true, nil
	}
	if !strings.EqualFold(detected, lang) {
		return false, fmt.Errorf("expected %s but detected %s", lang, detected)
	}
	return true, nil
}
