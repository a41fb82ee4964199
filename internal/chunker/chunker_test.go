package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/aclarador/internal/chunker"
)

func texts(segs []chunker.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}

func TestWords_Offsets(t *testing.T) {
	text := "Hola,  ¿qué tal? e-mail"
	words := chunker.Words(text)

	assert.Equal(t, []string{"Hola", "qué", "tal", "e-mail"}, texts(words))
	for i, w := range words {
		assert.Equal(t, w.Text, text[w.Start:w.End], "word %d span", i)
	}
}

func TestSentences_Basic(t *testing.T) {
	text := "Primera frase. ¿Segunda frase? ¡Tercera!"
	got := chunker.Sentences(text)

	require.Len(t, got, 3)
	assert.Equal(t, "¿Segunda frase?", got[1].Text)
	for _, s := range got {
		assert.Equal(t, s.Text, text[s.Start:s.End])
	}
}

func TestSentences_DecimalsAndQuotes(t *testing.T) {
	text := `El valor es 3.5 por ciento. Dijo "basta." Y se fue`
	got := chunker.Sentences(text)

	require.Len(t, got, 3)
	assert.Equal(t, `Dijo "basta."`, got[1].Text, "closing quote should stay with its sentence")
	assert.Equal(t, "Y se fue", got[2].Text, "unterminated tail should be a sentence")
}

func TestSentences_BlankLineBreaks(t *testing.T) {
	got := chunker.Sentences("# Título\n\nTexto del cuerpo.")
	require.Len(t, got, 2)
	assert.Equal(t, "# Título", got[0].Text)
}

func TestSentences_MarkdownBlocks(t *testing.T) {
	text := "# Requisitos\nNecesita estos documentos:\n- DNI vigente\n- Recibo de pago\n1. Pida cita\n2. Acuda a la oficina"
	got := chunker.Sentences(text)

	want := []string{"# Requisitos", "Necesita estos documentos:", "- DNI vigente", "- Recibo de pago", "1. Pida cita", "2. Acuda a la oficina"}
	assert.Equal(t, want, texts(got))
}

func TestIsBlockLine(t *testing.T) {
	for line, want := range map[string]bool{
		"# Título":  true,
		"  - item":  true,
		"12) paso":  true,
		"3. paso":   true,
		"-5 grados": false,
		"2024 fue":  false,
		"Texto":     false,
		"":          false,
	} {
		assert.Equal(t, want, chunker.IsBlockLine(line), "IsBlockLine(%q)", line)
	}
}

func TestParagraphs(t *testing.T) {
	text := "uno dos\n\n\ntres cuatro\n\ncinco"
	got := chunker.Paragraphs(text)

	require.Len(t, got, 3)
	assert.Equal(t, "tres cuatro", got[1].Text)
	assert.Equal(t, "tres cuatro", text[got[1].Start:got[1].End])
}

func TestChunk_ShortText(t *testing.T) {
	text := "Hola, mundo."
	assert.Equal(t, []string{text}, chunker.Chunk(text, 100))
}

func TestChunk_Unlimited(t *testing.T) {
	assert.Len(t, chunker.Chunk(strings.Repeat("palabra ", 500), 0), 1)
}

func TestChunk_ParagraphBoundary(t *testing.T) {
	text := "Primer párrafo del texto.\n\nSegundo párrafo del texto."
	chunks := chunker.Chunk(text, 40)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Primer párrafo del texto.", chunks[0])
}

func TestChunk_SentenceBoundary(t *testing.T) {
	text := "First sentence ends here. Second sentence follows. Third sentence."
	chunks := chunker.Chunk(text, 40)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "First sentence ends here.", chunks[0])
	for i, c := range chunks {
		assert.NotEmpty(t, c, "chunk %d", i)
		assert.Equal(t, strings.TrimSpace(c), c, "chunk %d is untrimmed", i)
	}
}

func TestChunk_WordBoundaryKeepsWords(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	chunks := chunker.Chunk(text, 20)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, text, strings.Join(chunks, " "), "words lost after chunking")
}

func TestExtractContext_LastWords(t *testing.T) {
	assert.Equal(t, "gamma delta epsilon", chunker.ExtractContext("alpha beta gamma delta epsilon", 3))
	assert.Equal(t, "short text", chunker.ExtractContext("short text", 25))
}

func TestLead(t *testing.T) {
	assert.Equal(t, "alpha beta", chunker.Lead("alpha  beta\ngamma delta", 2))

	words := strings.Repeat("w ", 40)
	assert.Len(t, strings.Fields(chunker.Lead(words, 0)), chunker.DefaultContextWords)
}
