package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/valpere/aclarador/internal/detector"
)

type fixedDetector struct {
	lang string
	ok   bool
}

func (f fixedDetector) DetectISO(string) (string, bool) { return f.lang, f.ok }

func TestCheckLanguage_EmptyText(t *testing.T) {
	v := New(fixedDetector{"es", true})
	valid, err := v.CheckLanguage("   ", "es")
	assert.Error(t, err)
	assert.False(t, valid)
}

func TestCheckLanguage_Passes(t *testing.T) {
	long := "Este texto tiene bastantes caracteres para detectar el idioma."
	tests := []struct {
		name string
		v    *Validator
		text string
		lang string
	}{
		{"no language", New(fixedDetector{"en", true}), long, ""},
		{"no detector", New(nil), long, "es"},
		{"short text", New(fixedDetector{"en", true}), "Hola", "es"},
		{"undetermined", New(fixedDetector{"", false}), long, "es"},
		{"match", New(fixedDetector{"es", true}), long, "es"},
		{"case insensitive", New(fixedDetector{"es", true}), long, "ES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, err := tt.v.CheckLanguage(tt.text, tt.lang)
			assert.NoError(t, err)
			assert.True(t, valid)
		})
	}
}

func TestCheckLanguage_Mismatch(t *testing.T) {
	v := New(fixedDetector{"en", true})
	valid, err := v.CheckLanguage("This text was rewritten into English by mistake.", "es")
	assert.Error(t, err)
	assert.False(t, valid)
}

func TestCheckLanguage_WithLingua(t *testing.T) {
	v := New(detector.New())
	valid, err := v.CheckLanguage("La solicitud se presenta en la oficina municipal más cercana.", "es")
	assert.NoError(t, err)
	assert.True(t, valid)
}
