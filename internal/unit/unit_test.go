package unit_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/completion"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/unit"
)

const longSentence = "El equipo de soporte revisó durante la mañana los informes enviados por " +
	"los usuarios de la plataforma digital del ayuntamiento, y después preparó un resumen " +
	"detallado con las incidencias más frecuentes para la reunión semanal del departamento " +
	"de atención ciudadana y de la oficina técnica."

const rewritten = "El equipo de soporte revisó por la mañana los informes de los usuarios de la " +
	"plataforma del ayuntamiento. Después preparó un resumen con las incidencias más frecuentes " +
	"para la reunión semanal."

type fakeDetector string

func (f fakeDetector) DetectISO(string) (string, bool) { return string(f), f != "" }

type fakeCompletion struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeCompletion) Name() string { return "fake:model" }

func (f *fakeCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.reply(prompt)
}

func replyWith(text string) *fakeCompletion {
	return &fakeCompletion{reply: func(string) (string, error) { return text, nil }}
}

// echo returns the text section of a rewrite prompt unchanged.
func echo() *fakeCompletion {
	return &fakeCompletion{reply: func(prompt string) (string, error) {
		return prompt[strings.LastIndex(prompt, "TEXT:\n")+len("TEXT:\n"):], nil
	}}
}

func failing() *fakeCompletion {
	return &fakeCompletion{reply: func(string) (string, error) {
		return "", &completion.UnavailableError{Service: "fake", Err: errors.New("connection refused")}
	}}
}

func kinds(issues []internal.Issue) []internal.IssueKind {
	out := make([]internal.IssueKind, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Kind)
	}
	return out
}

var esDoc = unit.NewContext("es", internal.TypeDocument)

func TestAnalyzer_RecommendsGrammarForDuplication(t *testing.T) {
	doc := internal.NewDocument("Este texto tiene errores que que necesitan corrección.", "es", internal.TypeDocument)

	res, err := unit.NewAnalyzer(nil).Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	assert.Equal(t, []internal.IssueKind{internal.KindDuplication}, kinds(res.Issues))
	assert.Equal(t, []unit.Capability{unit.CapGrammar}, res.Recommended)
	assert.Equal(t, doc.Text, res.Output.Text)
	assert.Equal(t, doc.Version, res.Output.Version)
}

func TestAnalyzer_ClassifiesWebText(t *testing.T) {
	doc := internal.NewDocument("#Título\n\nTexto del cuerpo.", "es", "")

	res, err := unit.NewAnalyzer(nil).Process(context.Background(), doc, unit.NewContext("", ""))

	require.NoError(t, err)
	assert.Equal(t, internal.TypeWeb, res.Output.DeclaredType)
	assert.Contains(t, res.Recommended, unit.CapSEO)
}

func TestAnalyzer_DetectsLanguage(t *testing.T) {
	a := unit.NewAnalyzer(fakeDetector("en"))

	long := internal.NewDocument("The committee reviewed the report on Monday.", "", "")
	res, err := a.Process(context.Background(), long, unit.NewContext("", ""))
	require.NoError(t, err)
	assert.Equal(t, "en", res.Output.Language)
	assert.Equal(t, internal.TypeDocument, res.Output.DeclaredType)

	short := internal.NewDocument("Hola.", "", "")
	res, err = a.Process(context.Background(), short, unit.NewContext("", ""))
	require.NoError(t, err)
	assert.Equal(t, unit.DefaultLanguage, res.Output.Language)

	declared, err := a.Process(context.Background(), long, unit.NewContext("es", ""))
	require.NoError(t, err)
	assert.Equal(t, "es", declared.Output.Language)
}

func TestUnits_RejectEmptyInput(t *testing.T) {
	reg, err := unit.Standard(unit.Deps{})
	require.NoError(t, err)
	for _, c := range []unit.Capability{unit.CapAnalyze, unit.CapGrammar, unit.CapStyle, unit.CapSEO, unit.CapValidate} {
		u, ok := reg.Get(c)
		require.True(t, ok, c)

		_, err := u.Process(context.Background(), internal.NewDocument("   ", "es", ""), esDoc)

		var ue *unit.Error
		require.ErrorAs(t, err, &ue, c)
		assert.Equal(t, unit.InvalidInput, ue.Kind)
		assert.Equal(t, u.ID(), ue.Unit)
	}
}

func TestUnits_CanceledContextIsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := unit.NewGrammar().Process(ctx, internal.NewDocument("Hola.", "es", ""), esDoc)

	var ue *unit.Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, unit.Timeout, ue.Kind)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGrammar_FixesDuplication(t *testing.T) {
	doc := internal.NewDocument("Este texto tiene errores que que necesitan corrección.", "es", "")

	res, err := unit.NewGrammar().Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	assert.Equal(t, "Este texto tiene errores que necesitan corrección.", res.Output.Text)
	assert.Equal(t, doc.Version+1, res.Output.Version)
	assert.True(t, res.Changed(doc))
	assert.Equal(t, 0.85, res.Confidence)

	again, err := unit.NewGrammar().Process(context.Background(), res.Output, esDoc)
	require.NoError(t, err)
	assert.False(t, again.Changed(res.Output))
	assert.Equal(t, res.Output.Version, again.Output.Version)
}

func TestGrammar_CitesGuidanceOnlyWithIssues(t *testing.T) {
	cit := internal.Citation{SourceLabel: "manual", Locator: "§2", RelevanceScore: 0.8}
	uctx := esDoc.WithGuidance([]unit.Guidance{{Text: "Evite repeticiones.", Citation: cit}})

	res, err := unit.NewGrammar().Process(context.Background(), internal.NewDocument("Es es así.", "es", ""), uctx)
	require.NoError(t, err)
	assert.Equal(t, []internal.Citation{cit}, res.Citations)

	clean, err := unit.NewGrammar().Process(context.Background(), internal.NewDocument("Es así.", "es", ""), uctx)
	require.NoError(t, err)
	assert.Empty(t, clean.Citations)
}

func TestStyle_HeuristicSplit(t *testing.T) {
	s := unit.NewStyle(nil)
	assert.Equal(t, "style/1", s.ID())

	res, err := s.Process(context.Background(), internal.NewDocument(longSentence, "es", ""), esDoc)

	require.NoError(t, err)
	assert.Contains(t, res.Output.Text, "del ayuntamiento. Después preparó")
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, internal.KindSentenceTooLong, res.Issues[0].Kind)
	assert.Equal(t, 30, res.Issues[0].Threshold)
	assert.False(t, res.Degraded)
}

func TestStyle_UsesCompletionRewrite(t *testing.T) {
	svc := replyWith(rewritten)
	s := unit.NewStyle(svc)
	assert.Equal(t, "style/1+fake:model", s.ID())

	doc := internal.NewDocument(longSentence, "es", "")
	res, err := s.Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	assert.Equal(t, rewritten, res.Output.Text)
	assert.Equal(t, doc.Version+1, res.Output.Version)
	assert.False(t, res.Degraded)
	require.Len(t, svc.prompts, 1)
	assert.Contains(t, svc.prompts[0], "SentenceTooLong")
}

func TestStyle_FallsBackWhenServiceUnavailable(t *testing.T) {
	doc := internal.NewDocument(longSentence, "es", "")

	res, err := unit.NewStyle(failing()).Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Output.Text, "del ayuntamiento. Después preparó")
}

func TestStyle_RejectsTruncatedRewrite(t *testing.T) {
	doc := internal.NewDocument(longSentence, "es", "")

	res, err := unit.NewStyle(replyWith("Resumen.")).Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Contains(t, res.Output.Text, "del ayuntamiento. Después preparó")
}

func TestStyle_ProtectsLinks(t *testing.T) {
	text := longSentence + " Más información en https://sede.ejemplo.es/tramites."
	svc := echo()

	res, err := unit.NewStyle(svc).Process(context.Background(), internal.NewDocument(text, "es", ""), esDoc)

	require.NoError(t, err)
	require.Len(t, svc.prompts, 1)
	assert.NotContains(t, svc.prompts[0], "https://sede.ejemplo.es")
	assert.Contains(t, svc.prompts[0], "[PH0]")
	assert.Equal(t, text, res.Output.Text)
	assert.False(t, res.Changed(internal.NewDocument(text, "es", "")))
}

func TestSEO_SkipsDocuments(t *testing.T) {
	doc := internal.NewDocument("#Título\n\nTexto.", "es", internal.TypeDocument)

	res, err := unit.NewSEO(nil).Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	assert.Empty(t, res.Issues)
	assert.Equal(t, doc, res.Output)
}

func TestSEO_FixesHeadingFormat(t *testing.T) {
	doc := internal.NewDocument("#Título\n\nTexto del cuerpo.", "es", internal.TypeWeb)

	res, err := unit.NewSEO(nil).Process(context.Background(), doc, unit.NewContext("es", ""))

	require.NoError(t, err)
	assert.Equal(t, "# Título\n\nTexto del cuerpo.", res.Output.Text)
	assert.Equal(t, []internal.IssueKind{internal.KindHeadingFormat}, kinds(res.Issues))
}

func TestSEO_ShortensTitle(t *testing.T) {
	title := strings.Repeat("Trámite ", 9) + "municipal"
	doc := internal.NewDocument("# "+title+"\n\nTexto del cuerpo.", "es", internal.TypeWeb)

	res, err := unit.NewSEO(replyWith("# Trámites municipales")).Process(context.Background(), doc, esDoc)
	require.NoError(t, err)
	assert.Equal(t, "# Trámites municipales\n\nTexto del cuerpo.", res.Output.Text)
	assert.Contains(t, kinds(res.Issues), internal.KindTitleTooLong)

	degraded, err := unit.NewSEO(failing()).Process(context.Background(), doc, esDoc)
	require.NoError(t, err)
	assert.True(t, degraded.Degraded)
	assert.Equal(t, doc.Text, degraded.Output.Text)
}

func TestValidator_Scores(t *testing.T) {
	doc := internal.NewDocument("El plazo termina el lunes. Presente la solicitud en la sede.", "es", internal.TypeDocument)

	res, err := unit.NewValidator(nil, nil).Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	require.NotNil(t, res.Scores)
	assert.GreaterOrEqual(t, res.Scores.OverallScore, 0.0)
	assert.LessOrEqual(t, res.Scores.OverallScore, 100.0)
	assert.Len(t, res.Scores.DimensionScores, len(quality.Dimensions))
	assert.Equal(t, doc, res.Output)
}

func TestValidator_LanguageMismatch(t *testing.T) {
	doc := internal.NewDocument("El plazo termina el lunes por la tarde.", "es", internal.TypeDocument)

	res, err := unit.NewValidator(nil, fakeDetector("en")).Process(context.Background(), doc, esDoc)

	require.NoError(t, err)
	require.Contains(t, kinds(res.Issues), internal.KindLanguageMismatch)
	last := res.Issues[len(res.Issues)-1]
	assert.Equal(t, internal.SeverityHigh, last.Severity)
}

func TestValidator_UnscorableText(t *testing.T) {
	_, err := unit.NewValidator(nil, nil).Process(context.Background(), internal.NewDocument("¡¿...?!", "es", ""), esDoc)
	assert.ErrorIs(t, err, quality.ErrUnscorable)
}

func TestContext_IsAValue(t *testing.T) {
	base := unit.NewContext("es-ES", internal.TypeWeb).WithKeywords("hipoteca", " ")
	assert.Equal(t, "es", base.Language())
	assert.Equal(t, []string{"hipoteca"}, base.Keywords())

	kw := base.Keywords()
	kw[0] = "changed"
	assert.Equal(t, []string{"hipoteca"}, base.Keywords())

	other := base.WithMinSeverity(internal.SeverityHigh)
	assert.Equal(t, internal.SeverityLow, base.MinSeverity())
	assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	assert.Equal(t, base.Fingerprint(), unit.NewContext("es", internal.TypeWeb).WithKeywords("hipoteca").Fingerprint())
}

func TestParseCapabilities(t *testing.T) {
	caps, err := unit.ParseCapabilities("seo, grammar,style,grammar")
	require.NoError(t, err)
	assert.Equal(t, []unit.Capability{unit.CapGrammar, unit.CapStyle, unit.CapSEO}, caps)

	_, err = unit.ParseCapabilities("grammar,spelling")
	assert.Error(t, err)

	assert.Equal(t, []unit.Capability{unit.CapGrammar}, unit.Ordered([]unit.Capability{unit.CapValidate, unit.CapGrammar}))
}

func TestRegistry(t *testing.T) {
	reg, err := unit.Standard(unit.Deps{Completion: replyWith("x")})
	require.NoError(t, err)
	assert.Equal(t, []string{"analyzer/1", "grammar/1", "style/1+fake:model", "seo/1+fake:model", "validator/1"}, reg.IDs())

	_, err = unit.NewRegistry(unit.NewGrammar(), unit.NewGrammar())
	assert.ErrorContains(t, err, "duplicate unit")
}
