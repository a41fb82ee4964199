package refiner_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/orchestrator"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/refiner"
	"github.com/valpere/aclarador/internal/unit"
)

type step func(ctx context.Context, doc internal.Document) (*orchestrator.AggregatedResult, error)

// scriptedRunner plays one step per pass and records the inputs it saw.
type scriptedRunner struct {
	steps  []step
	inputs []internal.Document
}

func (s *scriptedRunner) RunPass(ctx context.Context, doc internal.Document, _ []unit.Capability, _ unit.Context) (*orchestrator.AggregatedResult, error) {
	s.inputs = append(s.inputs, doc)
	i := len(s.inputs) - 1
	if i >= len(s.steps) {
		return nil, fmt.Errorf("unexpected pass %d", i+1)
	}
	return s.steps[i](ctx, doc)
}

// rewrite changes the text, reports issues on the input and scores the
// result.
func rewrite(text string, score float64, issues int) step {
	return func(_ context.Context, doc internal.Document) (*orchestrator.AggregatedResult, error) {
		res := &orchestrator.AggregatedResult{
			Document: doc.Next(text),
			Issues:   make([]internal.Issue, issues),
			Snapshot: &quality.Snapshot{OverallScore: score, DimensionScores: map[string]float64{}},
			Changed:  true,
		}
		return res, nil
	}
}

func blockUntilDone(ctx context.Context, _ internal.Document) (*orchestrator.AggregatedResult, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", orchestrator.ErrPassAborted, ctx.Err())
}

func newDoc(text string) internal.Document {
	return internal.NewDocument(text, "es", internal.TypeDocument)
}

const source = "Texto inicial con con varios problemas."

func TestRefine_PicksEarliestBestPass(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		rewrite("uno", 70, 4),
		rewrite("dos", 75, 3),
		rewrite("tres", 75, 2),
	}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Balanced)

	require.NoError(t, err)
	assert.Equal(t, "dos", out.FinalDocument.Text)
	assert.Equal(t, 3, out.PassesRun)
	assert.True(t, out.Converged)
	assert.Equal(t, quality.ReasonMaxPasses, out.Reason)
	assert.Len(t, out.Records, 2)
	assert.Len(t, out.QualityHistory, 3)
	assert.Equal(t, 75.0, out.FinalSnapshot().OverallScore)
	assert.Equal(t, 2, out.FinalSnapshot().PassNumber)
}

func TestRefine_DiscardsRegression(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		rewrite("uno", 70, 4),
		rewrite("dos", 65, 3),
	}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Aggressive)

	require.NoError(t, err)
	assert.Equal(t, "uno", out.FinalDocument.Text)
	assert.Equal(t, 2, out.PassesRun)
	assert.Equal(t, quality.ReasonRegression, out.Reason)
	assert.Contains(t, out.Recommendations, "last pass lowered quality and was discarded")
}

func TestRefine_StopsOnPlateau(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		rewrite("uno", 70, 4),
		rewrite("dos", 70.2, 3),
		rewrite("tres", 70.3, 2),
	}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Aggressive)

	require.NoError(t, err)
	assert.Equal(t, quality.ReasonPlateau, out.Reason)
	assert.Equal(t, 3, out.PassesRun)
	assert.Equal(t, "tres", out.FinalDocument.Text)
	assert.Equal(t, "improving", out.Trend)
}

func TestRefine_RebasesVersions(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		rewrite("uno", 70, 4),
		rewrite("dos", 72, 3),
		rewrite("tres", 74, 2),
	}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source).WithVersion(7), refiner.Balanced)

	require.NoError(t, err)
	require.Len(t, runner.inputs, 3)
	assert.Equal(t, []int{7, 8, 9}, []int{runner.inputs[0].Version, runner.inputs[1].Version, runner.inputs[2].Version})
	assert.Equal(t, 10, out.FinalDocument.Version)
}

func TestRefine_PassTimeoutKeepsBestSoFar(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		rewrite("uno", 70, 4),
		blockUntilDone,
	}}
	c := refiner.New(runner, refiner.Config{PassTimeout: 20 * time.Millisecond})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Balanced)

	require.NoError(t, err)
	assert.Equal(t, "uno", out.FinalDocument.Text)
	assert.Equal(t, 1, out.PassesRun)
	assert.False(t, out.Converged)
	assert.Equal(t, quality.ReasonTimeout, out.Reason)
	assert.NotEmpty(t, out.Warnings)
}

func TestRefine_CancelKeepsBestSoFar(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		rewrite("uno", 70, 4),
		rewrite("dos", 80, 3),
	}}
	c := refiner.New(runner, refiner.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := c.Refine(ctx, newDoc(source), refiner.Aggressive,
		refiner.WithObserver(func(refiner.Record) { cancel() }))

	require.NoError(t, err)
	assert.Equal(t, "uno", out.FinalDocument.Text)
	assert.Equal(t, 1, out.PassesRun)
	assert.Equal(t, quality.ReasonCanceled, out.Reason)
}

func TestRefine_TimeoutBeforeAnyPassReturnsInput(t *testing.T) {
	runner := &scriptedRunner{steps: []step{blockUntilDone}}
	c := refiner.New(runner, refiner.Config{PassTimeout: 10 * time.Millisecond})
	doc := newDoc(source)

	out, err := c.Refine(context.Background(), doc, refiner.Conservative)

	require.NoError(t, err)
	assert.Equal(t, doc, out.FinalDocument)
	assert.Equal(t, 0, out.PassesRun)
	assert.Equal(t, quality.ReasonTimeout, out.Reason)
	assert.Nil(t, out.FinalSnapshot())
}

func TestRefine_ScoresUnscoredPass(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		func(_ context.Context, doc internal.Document) (*orchestrator.AggregatedResult, error) {
			return &orchestrator.AggregatedResult{Document: doc, Degraded: true, Warnings: []string{"validator failed"}}, nil
		},
	}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Balanced)

	require.NoError(t, err)
	require.NotNil(t, out.FinalSnapshot())
	assert.Equal(t, 1, out.FinalSnapshot().PassNumber)
	assert.True(t, out.Degraded)
	assert.Equal(t, []string{"pass 1: validator failed"}, out.Warnings)
	assert.Equal(t, quality.ReasonNoIssues, out.Reason)
}

func TestRefine_FailedAnalysisIsNotNoIssues(t *testing.T) {
	unanalyzed := func(_ context.Context, doc internal.Document) (*orchestrator.AggregatedResult, error) {
		return &orchestrator.AggregatedResult{Document: doc, Degraded: true, AnalysisFailed: true}, nil
	}
	runner := &scriptedRunner{steps: []step{unanalyzed, unanalyzed, unanalyzed, unanalyzed, unanalyzed}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Aggressive)

	require.NoError(t, err)
	assert.NotEqual(t, quality.ReasonNoIssues, out.Reason)
	assert.Equal(t, quality.ReasonPlateau, out.Reason)
	assert.Equal(t, 3, out.PassesRun)
	assert.True(t, out.Degraded)
	assert.Equal(t, source, out.FinalDocument.Text)
}

func TestRefine_RejectsInvalidInput(t *testing.T) {
	c := refiner.New(&scriptedRunner{}, refiner.Config{MaxInputRunes: 10})
	var inputErr *internal.InputError

	_, err := c.Refine(context.Background(), newDoc("   "), refiner.Balanced)
	assert.ErrorAs(t, err, &inputErr)

	_, err = c.Refine(context.Background(), newDoc(strings.Repeat("a", 11)), refiner.Balanced)
	assert.ErrorAs(t, err, &inputErr)

	_, err = c.Refine(context.Background(), newDoc("Hola."), refiner.Mode("reckless"))
	assert.ErrorAs(t, err, &inputErr)
}

func TestRefine_PropagatesUnexpectedErrors(t *testing.T) {
	runner := &scriptedRunner{steps: []step{
		func(context.Context, internal.Document) (*orchestrator.AggregatedResult, error) {
			return nil, errors.New("no analyzer registered")
		},
	}}
	c := refiner.New(runner, refiner.Config{})

	_, err := c.Refine(context.Background(), newDoc(source), refiner.Balanced)

	assert.ErrorContains(t, err, "no analyzer registered")
}

func TestRefine_MaxPassesOverride(t *testing.T) {
	runner := &scriptedRunner{steps: []step{rewrite("uno", 70, 4)}}
	c := refiner.New(runner, refiner.Config{})

	out, err := c.Refine(context.Background(), newDoc(source), refiner.Aggressive, refiner.WithMaxPasses(1))

	require.NoError(t, err)
	assert.Equal(t, 1, out.PassesRun)
	assert.Equal(t, 1, out.MaxPasses)
	assert.Equal(t, quality.ReasonMaxPasses, out.Reason)
}

func TestParseMode(t *testing.T) {
	m, err := refiner.ParseMode(" Aggressive ")
	require.NoError(t, err)
	assert.Equal(t, refiner.Aggressive, m)
	assert.Equal(t, 5, m.MaxPasses())

	m, err = refiner.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, refiner.Balanced, m)

	_, err = refiner.ParseMode("reckless")
	assert.Error(t, err)

	for _, m := range refiner.Modes() {
		assert.NotEmpty(t, m.Description())
	}
	assert.Equal(t, 2, refiner.Conservative.MaxPasses())
}

// The remaining tests run the real units.

func standardController(t *testing.T) *refiner.Controller {
	t.Helper()
	reg, err := unit.Standard(unit.Deps{})
	require.NoError(t, err)
	coord := orchestrator.New(reg, nil, nil, orchestrator.Config{})
	return refiner.New(coord, refiner.Config{})
}

func TestRefine_CleanTextStopsAfterOnePass(t *testing.T) {
	text := "El ayuntamiento abre el registro el lunes. Los vecinos pueden presentar sus solicitudes en línea."
	c := standardController(t)

	out, err := c.Refine(context.Background(), newDoc(text), refiner.Balanced)

	require.NoError(t, err)
	assert.Equal(t, 1, out.PassesRun)
	assert.True(t, out.Converged)
	assert.Equal(t, quality.ReasonNoIssues, out.Reason)
	assert.Equal(t, text, out.FinalDocument.Text)
	assert.Contains(t, out.Recommendations, "single pass was sufficient: text was already clear")
}

func TestRefine_FixesDuplicateWordAndIsIdempotent(t *testing.T) {
	c := standardController(t)

	first, err := c.Refine(context.Background(), newDoc("Este texto tiene errores que que necesitan corrección."), refiner.Balanced)
	require.NoError(t, err)
	assert.NotContains(t, first.FinalDocument.Text, "que que")
	assert.True(t, first.Converged)

	second, err := c.Refine(context.Background(), first.FinalDocument, refiner.Balanced)
	require.NoError(t, err)
	assert.Equal(t, first.FinalDocument.Text, second.FinalDocument.Text)
	assert.Equal(t, 1, second.PassesRun)
	assert.Equal(t, quality.ReasonNoIssues, second.Reason)
}

func TestRefine_RespectsModeBudget(t *testing.T) {
	text := "Es importante señalar que la solicitud fue presentada por el interesado. " +
		"El equipo de soporte revisó durante la mañana los informes enviados por los usuarios " +
		"de la plataforma digital del ayuntamiento, y después preparó un resumen detallado con " +
		"las incidencias más frecuentes para la reunión semanal del departamento de atención " +
		"ciudadana y de la oficina técnica municipal de la ciudad."
	c := standardController(t)

	for _, m := range refiner.Modes() {
		out, err := c.Refine(context.Background(), newDoc(text), m)
		require.NoError(t, err)
		assert.LessOrEqual(t, out.PassesRun, m.MaxPasses(), "mode %s", m)
		assert.LessOrEqual(t, len(out.Records), out.PassesRun)
		assert.NotEmpty(t, out.FinalDocument.Text)
	}
}
