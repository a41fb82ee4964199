package lint_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/lint"
)

var es = lint.Options{Language: "es"}

func kinds(issues []internal.Issue) []internal.IssueKind {
	out := make([]internal.IssueKind, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Kind)
	}
	return out
}

func TestGrammar_Duplication(t *testing.T) {
	text := "Este texto tiene errores que que necesitan corrección."

	res := lint.Grammar(text, es)

	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.Equal(t, internal.KindDuplication, issue.Kind)
	assert.Equal(t, "que que", text[issue.Span.Start:issue.Span.End])
	assert.Contains(t, res.Text, "que necesitan")
	assert.Equal(t, "Este texto tiene errores que necesitan corrección.", res.Text)

	all := lint.All(text, internal.TypeDocument, es)
	assert.Equal(t, []internal.IssueKind{internal.KindDuplication}, kinds(all))
}

func TestGrammar_FixedPoint(t *testing.T) {
	first := lint.Grammar("hola  mundo que que sigue , sin pausa.", es)
	require.True(t, first.Changed())

	second := lint.Grammar(first.Text, es)
	assert.False(t, second.Changed())
	assert.Empty(t, second.Issues)
	assert.Equal(t, first.Text, second.Text)
}

func TestGrammar_NumbersAreNotDuplicates(t *testing.T) {
	res := lint.Grammar("El código 22 22 es válido.", es)
	assert.Empty(t, res.Issues)
}

func TestGrammar_Capitalization(t *testing.T) {
	res := lint.Grammar("hola mundo. otra frase aquí.", es)
	assert.Equal(t, "Hola mundo. Otra frase aquí.", res.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindCapitalization, internal.KindCapitalization}, kinds(res.Issues))
}

func TestGrammar_CapitalizationAfterAbbreviation(t *testing.T) {
	text := "Compré frutas, verduras, etc. y luego volví."
	res := lint.Grammar(text, es)
	assert.Equal(t, text, res.Text)
	assert.NotContains(t, kinds(res.Issues), internal.KindCapitalization)
}

func TestGrammar_OpeningMarks(t *testing.T) {
	res := lint.Grammar("Qué hora es? Vamos ya!", es)
	assert.Equal(t, "¿Qué hora es? ¡Vamos ya!", res.Text)

	en := lint.Grammar("What time is it?", lint.Options{Language: "en"})
	assert.False(t, en.Changed())
}

func TestGrammar_Spacing(t *testing.T) {
	res := lint.Grammar("Hola , mundo  feliz .", es)
	assert.Equal(t, "Hola, mundo feliz.", res.Text)
	assert.Equal(t, 3, res.Applied)
}

func TestGrammar_MissingSpaceAfterPunctuation(t *testing.T) {
	res := lint.Grammar("Uno,dos;tres.", es)
	assert.Equal(t, "Uno, dos; tres.", res.Text)

	url := "Visita https://ejemplo.es/a,b para más."
	assert.Equal(t, url, lint.Grammar(url, es).Text)
}

func TestGrammar_MarkdownLineBreakKept(t *testing.T) {
	text := "Primera línea.  \nSegunda línea."
	assert.Equal(t, text, lint.Grammar(text, es).Text)
}

func TestGrammar_MinSeverity(t *testing.T) {
	opts := lint.Options{Language: "es", MinSeverity: internal.SeverityMedium}
	res := lint.Grammar("Hola , mundo que que sigue.", opts)

	assert.Equal(t, "Hola , mundo que sigue.", res.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindDuplication}, kinds(res.Issues))
}

func TestGrammar_AccentIsReportOnly(t *testing.T) {
	text := "Quiero mas tiempo."
	res := lint.Grammar(text, es)
	assert.Equal(t, text, res.Text)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, internal.KindAccent, res.Issues[0].Kind)
	assert.Equal(t, "más", res.Issues[0].Suggestion)
}

const longSentence = "El equipo de soporte revisó durante la mañana los informes enviados por " +
	"los usuarios de la plataforma digital del ayuntamiento, y después preparó un resumen " +
	"detallado con las incidencias más frecuentes para la reunión semanal del departamento " +
	"de atención ciudadana y de la oficina técnica."

func TestStyle_SplitsLongSentence(t *testing.T) {
	res := lint.Style(longSentence, es)

	require.NotEmpty(t, res.Issues)
	issue := res.Issues[0]
	assert.Equal(t, internal.KindSentenceTooLong, issue.Kind)
	assert.Equal(t, 30, issue.Threshold)
	assert.Contains(t, issue.Message, "45 words")
	assert.Contains(t, res.Text, "del ayuntamiento. Después preparó")

	again := lint.Style(res.Text, es)
	assert.NotContains(t, kinds(again.Issues), internal.KindSentenceTooLong)
	assert.False(t, again.Changed())
}

func TestStyle_LongSentenceWithoutBoundarySplitsAtMiddle(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("palabra ", 35)) + "."
	res := lint.Style(text, es)

	first := strings.TrimSpace(strings.Repeat("palabra ", 17))
	second := "Palabra " + strings.TrimSpace(strings.Repeat("palabra ", 17)) + "."
	assert.Equal(t, first+". "+second, res.Text)
	require.Equal(t, []internal.IssueKind{internal.KindSentenceTooLong}, kinds(res.Issues))
	assert.Equal(t, 30, res.Issues[0].Threshold)
	assert.Equal(t, "split into two sentences", res.Issues[0].Suggestion)

	again := lint.Style(res.Text, es)
	assert.False(t, again.Changed())
}

func TestStyle_LongSentencePrefersBareConnector(t *testing.T) {
	left := "El vecino presentó la solicitud en la oficina municipal del barrio norte durante la mañana del lunes pasado"
	right := "la funcionaria revisó todos los documentos del expediente antes de enviarlo al registro central de la ciudad"
	res := lint.Style(left+" y "+right+".", es)

	assert.Equal(t, left+". La funcionaria"+strings.TrimPrefix(right, "la funcionaria")+".", res.Text)
}

func TestStyle_CustomSentenceLimit(t *testing.T) {
	text := "Uno dos tres cuatro cinco seis, siete ocho nueve diez once doce."
	res := lint.Style(text, lint.Options{Language: "es", MaxSentenceWords: 8})
	assert.Equal(t, "Uno dos tres cuatro cinco seis. Siete ocho nueve diez once doce.", res.Text)
}

func TestStyle_Fillers(t *testing.T) {
	res := lint.Style("El informe es realmente importante para todos.", es)
	assert.Equal(t, "El informe es importante para todos.", res.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindFillerWord}, kinds(res.Issues))

	initial := "Realmente, no lo sé."
	res = lint.Style(initial, es)
	assert.Equal(t, initial, res.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindFillerWord}, kinds(res.Issues))

	en := lint.Style("This is basically done now.", lint.Options{Language: "en"})
	assert.Equal(t, "This is done now.", en.Text)
}

func TestStyle_Redundancy(t *testing.T) {
	res := lint.Style("Vamos a subir arriba las cajas.", es)
	assert.Equal(t, "Vamos a subir las cajas.", res.Text)

	res = lint.Style("Mas sin embargo, seguimos.", es)
	assert.Equal(t, "Sin embargo, seguimos.", res.Text)
}

func TestStyle_PassiveIsReportOnly(t *testing.T) {
	text := "La ley fue aprobada por el congreso."
	res := lint.Style(text, es)
	assert.Equal(t, text, res.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindPassiveVoice}, kinds(res.Issues))

	assert.Equal(t, 1, lint.CountPassive(text, "es"))
	assert.Equal(t, 1, lint.CountPassive("The report was written by Ana.", "en"))
	assert.Equal(t, 0, lint.CountPassive("Ana wrote the report.", "en"))
}

func TestStyle_ComplexWord(t *testing.T) {
	res := lint.Style("Es una circunstancialmente rara excepción.", es)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, internal.KindComplexWord, res.Issues[0].Kind)
	assert.Equal(t, lint.ComplexWordLetters, res.Issues[0].Threshold)
}

func TestStyle_Counts(t *testing.T) {
	text := "Es realmente simple. Vamos a subir arriba. Básicamente, listo."
	assert.Equal(t, 2, lint.CountFillers(text, "es"))
	assert.Equal(t, 1, lint.CountRedundancies(text, "es"))
}

func TestStyle_Deterministic(t *testing.T) {
	a := lint.Style(longSentence, es)
	b := lint.Style(longSentence, es)
	assert.Equal(t, a, b)
}

func TestSEO_HeadingFormat(t *testing.T) {
	res := lint.SEO("#Título\n\nTexto del cuerpo.", es)
	assert.Equal(t, "# Título\n\nTexto del cuerpo.", res.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindHeadingFormat}, kinds(res.Issues))
}

func TestSEO_IgnoresFencedCode(t *testing.T) {
	text := "# Título\n\n```\n#include <stdio.h>\n```"
	assert.Equal(t, text, lint.SEO(text, es).Text)
}

func TestSEO_TitleTooLong(t *testing.T) {
	title := strings.Repeat("Trámite ", 9) + "municipal"
	res := lint.SEO("# "+title+"\n\nTexto.", es)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, internal.KindTitleTooLong, res.Issues[0].Kind)
	assert.Equal(t, internal.SeverityMedium, res.Issues[0].Severity)
	assert.Equal(t, lint.MaxTitleRunes, res.Issues[0].Threshold)

	got, _, ok := lint.Title("# " + title + "\n\nTexto.")
	require.True(t, ok)
	assert.Equal(t, title, got)
}

func TestSEO_MissingHeading(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("palabra ", 160))
	res := lint.SEO(text, es)
	assert.Contains(t, kinds(res.Issues), internal.KindMissingHeading)
}

func TestSEO_KeywordDensity(t *testing.T) {
	text := "Seguro de coche barato. Seguro de coche hoy."

	count, density, span := lint.KeywordDensity(text, "seguro de coche")
	assert.Equal(t, 2, count)
	assert.InDelta(t, 75.0, density, 0.01)
	assert.Equal(t, "Seguro de coche", text[span.Start:span.End])

	res := lint.SEO(text, lint.Options{Language: "es", Keywords: []string{"hipoteca", "seguro de coche"}})
	require.Len(t, res.Issues, 2)
	assert.Equal(t, internal.SeverityLow, res.Issues[0].Severity)
	assert.Equal(t, internal.SeverityMedium, res.Issues[1].Severity)
}

func TestAll_SEOOnlyForWeb(t *testing.T) {
	text := "#Título\n\nTexto del cuerpo."
	assert.NotContains(t, kinds(lint.All(text, internal.TypeDocument, es)), internal.KindHeadingFormat)
	assert.Contains(t, kinds(lint.All(text, internal.TypeWeb, es)), internal.KindHeadingFormat)
}
