package lint

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/chunker"
)

// ComplexWordLetters is the word length, in letters, reported as complex
// vocabulary.
const ComplexWordLetters = 15

const minSplitWords = 5

var fillers = map[string][]string{
	"es": {"realmente", "básicamente", "obviamente", "simplemente", "literalmente",
		"prácticamente", "verdaderamente", "evidentemente"},
	"en": {"basically", "really", "actually", "obviously", "simply", "literally",
		"totally", "essentially"},
}

var splitConjunctions = map[string]bool{
	"pero": true, "aunque": true, "sino": true, "mientras": true,
	"but": true, "although": true, "while": true, "whereas": true,
}

var droppedConnectors = map[string]bool{"y": true, "e": true, "and": true}

var passiveAux = map[string][]string{
	"es": {"fue", "fueron", "será", "serán", "sido", "sería", "serían", "fuera", "fueran"},
	"en": {"was", "were", "been", "being", "is", "are", "be"},
}

var irregularParticiples = map[string][]string{
	"es": {"escrit", "hech", "dich", "puest", "vist", "abiert", "resuelt", "cubiert",
		"devuelt", "rot", "vuelt", "impres"},
	"en": {"written", "done", "made", "given", "taken", "seen", "known", "shown", "built",
		"sent", "found", "held", "told", "paid", "chosen", "broken", "spoken", "kept"},
}

type redundancy struct {
	phrase      string
	replacement string
	re          *regexp.Regexp
}

var redundancies = map[string][]redundancy{
	"es": compileRedundancies([][2]string{
		{"subir arriba", "subir"},
		{"bajar abajo", "bajar"},
		{"salir afuera", "salir"},
		{"entrar adentro", "entrar"},
		{"volver a repetir", "repetir"},
		{"lapso de tiempo", "lapso"},
		{"mas sin embargo", "sin embargo"},
		{"prever con antelación", "prever"},
		{"nexo de unión", "nexo"},
		{"erario público", "erario"},
		{"completamente lleno", "lleno"},
		{"totalmente gratis", "gratis"},
	}),
	"en": compileRedundancies([][2]string{
		{"advance planning", "planning"},
		{"end result", "result"},
		{"past history", "history"},
		{"free gift", "gift"},
		{"completely finished", "finished"},
		{"repeat again", "repeat"},
		{"each and every", "each"},
	}),
}

func compileRedundancies(pairs [][2]string) []redundancy {
	out := make([]redundancy, 0, len(pairs))
	for _, p := range pairs {
		words := strings.Fields(p[0])
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		pattern := `(?i)(?:^|[^\p{L}\p{N}])(` + strings.Join(words, `[ \t]+`) + `)(?:[^\p{L}\p{N}]|$)`
		out = append(out, redundancy{phrase: p[0], replacement: p[1], re: regexp.MustCompile(pattern)})
	}
	return out
}

func langKey(opts Options) string {
	if opts.english() {
		return "en"
	}
	return "es"
}

// Style checks sentence length, filler words, passive voice, complex
// vocabulary and redundant phrases. Long sentences are split once per pass at
// the clause boundary nearest their middle.
func Style(text string, opts Options) Result {
	lang := langKey(opts)
	sentences := sentenceWords(text)

	var findings []finding
	findings = append(findings, longSentences(text, sentences, opts.maxWords())...)
	findings = append(findings, redundantPhrases(text, lang)...)
	findings = append(findings, fillerWords(text, sentences, lang)...)
	findings = append(findings, passiveVoice(sentences, lang)...)
	findings = append(findings, complexWords(sentences)...)
	return apply(text, findings, opts.MinSeverity)
}

type sentence struct {
	chunker.Segment
	words []chunker.Segment
}

// sentenceWords returns each sentence of text with its words in text offsets.
func sentenceWords(text string) []sentence {
	var out []sentence
	for _, s := range chunker.Sentences(text) {
		words := chunker.Words(s.Text)
		for i := range words {
			words[i].Start += s.Start
			words[i].End += s.Start
		}
		out = append(out, sentence{Segment: s, words: words})
	}
	return out
}

func longSentences(text string, sentences []sentence, maxWords int) []finding {
	var out []finding
	for _, s := range sentences {
		n := len(s.words)
		if n <= maxWords {
			continue
		}
		f := finding{
			issue: internal.Issue{
				Kind:      internal.KindSentenceTooLong,
				Span:      internal.Span{Start: s.Start, End: s.End},
				Severity:  internal.SeverityMedium,
				Message:   fmt.Sprintf("sentence has %d words (max %d)", n, maxWords),
				Threshold: maxWords,
			},
		}
		if e, ok := splitPoint(text, s.words); ok {
			f.fix = &e
			f.issue.Suggestion = "split into two sentences"
		}
		out = append(out, f)
	}
	return out
}

// splitPoint picks where to break a long sentence in two, leaving at least
// minSplitWords words on each side. Clause boundaries win over a bare "y"
// between words; a sentence with neither is split at the word gap nearest
// its middle.
func splitPoint(text string, words []chunker.Segment) (edit, bool) {
	for _, b := range []boundary{clauseBoundary, connectorBoundary, plainBoundary} {
		if e, ok := nearestMiddle(text, words, b); ok {
			return e, true
		}
	}
	return edit{}, false
}

// boundary reports whether a sentence can break before words[i], and the
// index of the word that starts the second sentence.
type boundary func(text string, words []chunker.Segment, i int) (next int, ok bool)

// clauseBoundary is a comma, semicolon or colon between two words (a
// following "y"/"and" is dropped) or a contrastive conjunction.
func clauseBoundary(text string, words []chunker.Segment, i int) (int, bool) {
	gap := text[words[i-1].End:words[i].Start]
	switch {
	case isClauseGap(gap):
		if droppedConnectors[lower(words[i].Text)] && i+1 < len(words) && isPlainGap(text[words[i].End:words[i+1].Start]) {
			return i + 1, true
		}
		return i, true
	case splitConjunctions[lower(words[i].Text)] && strings.TrimSpace(gap) == "":
		return i, true
	}
	return 0, false
}

func connectorBoundary(text string, words []chunker.Segment, i int) (int, bool) {
	if !droppedConnectors[lower(words[i].Text)] || i+1 >= len(words) {
		return 0, false
	}
	if !isPlainGap(text[words[i-1].End:words[i].Start]) || !isPlainGap(text[words[i].End:words[i+1].Start]) {
		return 0, false
	}
	return i + 1, true
}

func plainBoundary(text string, words []chunker.Segment, i int) (int, bool) {
	return i, isPlainGap(text[words[i-1].End:words[i].Start])
}

func nearestMiddle(text string, words []chunker.Segment, b boundary) (edit, bool) {
	n := len(words)
	best, bestDist := edit{}, -1
	for i := 1; i < n; i++ {
		next, ok := b(text, words, i)
		if !ok || i < minSplitWords || n-next < minSplitWords {
			continue
		}
		dist := i - n/2
		if dist < 0 {
			dist = -dist
		}
		if bestDist >= 0 && dist >= bestDist {
			continue
		}
		upper, size := upperFirst(text[words[next].Start:])
		best = edit{start: words[i-1].End, end: words[next].Start + size, replacement: ". " + upper}
		bestDist = dist
	}
	return best, bestDist >= 0
}

func isPlainGap(gap string) bool {
	return gap != "" && strings.TrimSpace(gap) == "" && !strings.Contains(gap, "\n")
}

func isClauseGap(gap string) bool {
	p := strings.TrimSpace(gap)
	return (p == "," || p == ";" || p == ":") && strings.HasPrefix(gap, p) && !strings.Contains(gap, "\n")
}

func fillerWords(text string, sentences []sentence, lang string) []finding {
	set := wordSet(fillers[lang])
	var out []finding
	for _, s := range sentences {
		for i, w := range s.words {
			if !set[lower(w.Text)] {
				continue
			}
			f := finding{
				issue: internal.Issue{
					Kind:     internal.KindFillerWord,
					Span:     internal.Span{Start: w.Start, End: w.End},
					Severity: internal.SeverityLow,
					Message:  fmt.Sprintf("filler word %q adds nothing", lower(w.Text)),
				},
			}
			if i > 0 && spaceAround(text, w) {
				f.fix = &edit{start: w.Start, end: w.End + 1}
			}
			out = append(out, f)
		}
	}
	return out
}

func spaceAround(text string, w chunker.Segment) bool {
	if w.Start == 0 || w.End >= len(text) {
		return false
	}
	return text[w.Start-1] == ' ' && text[w.End] == ' '
}

func passiveVoice(sentences []sentence, lang string) []finding {
	aux := wordSet(passiveAux[lang])
	var out []finding
	for _, s := range sentences {
		for i := 0; i+1 < len(s.words); i++ {
			if !aux[lower(s.words[i].Text)] || !isParticiple(lower(s.words[i+1].Text), lang) {
				continue
			}
			out = append(out, finding{
				issue: internal.Issue{
					Kind:     internal.KindPassiveVoice,
					Span:     internal.Span{Start: s.words[i].Start, End: s.words[i+1].End},
					Severity: internal.SeverityLow,
					Message:  "passive voice; consider the active form",
				},
			})
		}
	}
	return out
}

func isParticiple(word, lang string) bool {
	if lang == "en" {
		for _, p := range irregularParticiples["en"] {
			if word == p {
				return true
			}
		}
		return utf8.RuneCountInString(word) >= 4 && strings.HasSuffix(word, "ed")
	}
	for _, stem := range irregularParticiples["es"] {
		switch strings.TrimPrefix(word, stem) {
		case "o", "a", "os", "as":
			if strings.HasPrefix(word, stem) {
				return true
			}
		}
	}
	if utf8.RuneCountInString(word) < 5 {
		return false
	}
	for _, suffix := range []string{"ado", "ada", "ados", "adas", "ido", "ida", "idos", "idas"} {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	return false
}

func complexWords(sentences []sentence) []finding {
	var out []finding
	for _, s := range sentences {
		for _, w := range s.words {
			if letterCount(w.Text) < ComplexWordLetters {
				continue
			}
			out = append(out, finding{
				issue: internal.Issue{
					Kind:      internal.KindComplexWord,
					Span:      internal.Span{Start: w.Start, End: w.End},
					Severity:  internal.SeverityLow,
					Message:   fmt.Sprintf("long word %q; a simpler term may read better", w.Text),
					Threshold: ComplexWordLetters,
				},
			})
		}
	}
	return out
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func redundantPhrases(text, lang string) []finding {
	var out []finding
	for _, r := range redundancies[lang] {
		for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2], m[3]
			replacement := r.replacement
			if first, _ := utf8.DecodeRuneInString(text[start:]); unicode.IsUpper(first) {
				up, size := upperFirst(replacement)
				replacement = up + replacement[size:]
			}
			out = append(out, finding{
				issue: internal.Issue{
					Kind:       internal.KindRedundancy,
					Span:       internal.Span{Start: start, End: end},
					Severity:   internal.SeverityLow,
					Message:    fmt.Sprintf("%q is redundant", r.phrase),
					Suggestion: replacement,
				},
				fix: &edit{start: start, end: end, replacement: replacement},
			})
		}
	}
	return out
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// CountPassive returns the number of passive constructions in text.
func CountPassive(text, language string) int {
	return len(passiveVoice(sentenceWords(text), langKey(Options{Language: language})))
}

// CountFillers returns the number of filler words in text.
func CountFillers(text, language string) int {
	lang := langKey(Options{Language: language})
	return len(fillerWords(text, sentenceWords(text), lang))
}

// CountRedundancies returns the number of redundant phrases in text.
func CountRedundancies(text, language string) int {
	return len(redundantPhrases(text, langKey(Options{Language: language})))
}
