// Package quality scores documents along readability, grammar, clarity and
// style, and decides when further refinement passes stop paying off.
package quality

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/chunker"
	"github.com/valpere/aclarador/internal/lint"
	"github.com/valpere/aclarador/internal/markdown"
)

// Dimension names.
const (
	Readability = "readability"
	Grammar     = "grammar"
	Clarity     = "clarity"
	Style       = "style"
)

// Weights of each dimension in the overall score. They sum to 1.
var Weights = map[string]float64{
	Readability: 0.30,
	Grammar:     0.30,
	Clarity:     0.25,
	Style:       0.15,
}

// Dimensions lists the dimension names in report order.
var Dimensions = []string{Readability, Grammar, Clarity, Style}

// ErrUnscorable is returned for text without words.
var ErrUnscorable = errors.New("quality: text has no words to score")

const maxIdeaClauses = 3

var subordinators = map[string]bool{
	"que": true, "porque": true, "aunque": true, "cuando": true, "donde": true,
	"that": true, "which": true, "because": true, "although": true, "when": true, "where": true,
}

// Snapshot is the quality measurement of one document.
type Snapshot struct {
	PassNumber      int                `json:"pass_number"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	OverallScore    float64            `json:"overall_score"`
	Timestamp       time.Time          `json:"timestamp"`
}

// Clone returns a copy of s with its own score map.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.DimensionScores = make(map[string]float64, len(s.DimensionScores))
	for k, v := range s.DimensionScores {
		c.DimensionScores[k] = v
	}
	return &c
}

// Scorer computes snapshots. Scores depend only on the text, its language and
// its declared type.
type Scorer struct {
	now func() time.Time
}

// NewScorer returns a Scorer stamping snapshots with the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Score measures text. Web documents are scored on their markdown-stripped
// text.
func (s *Scorer) Score(text, language, declaredType string) (*Snapshot, error) {
	if declaredType == internal.TypeWeb {
		text = markdown.ToPlainText([]byte(text))
	}
	m := measure(text, language)
	if m.words == 0 {
		return nil, ErrUnscorable
	}

	dims := map[string]float64{
		Readability: round2(readability(m, language)),
		Grammar:     round2(grammarScore(text, language, m.words)),
		Clarity:     round2(clarity(text, language, m)),
		Style:       round2(style(text, language, m)),
	}
	overall := 0.0
	for _, name := range Dimensions {
		overall += dims[name] * Weights[name]
	}

	now := time.Now
	if s != nil && s.now != nil {
		now = s.now
	}
	return &Snapshot{
		DimensionScores: dims,
		OverallScore:    round2(clamp(overall)),
		Timestamp:       now(),
	}, nil
}

type metrics struct {
	words       int
	syllables   int
	lengths     []int
	oneIdea     int
	sentenceCnt int
}

func measure(text, language string) metrics {
	var m metrics
	for _, s := range chunker.Sentences(text) {
		words := chunker.Words(s.Text)
		if len(words) == 0 {
			continue
		}
		m.sentenceCnt++
		m.words += len(words)
		m.lengths = append(m.lengths, len(words))

		clauses := 1 + strings.Count(s.Text, ";") + strings.Count(s.Text, ":")
		for _, w := range words {
			m.syllables += syllables(w.Text, language)
			if subordinators[strings.ToLower(w.Text)] {
				clauses++
			}
		}
		if len(words) <= lint.DefaultMaxSentenceWords && clauses <= maxIdeaClauses {
			m.oneIdea++
		}
	}
	return m
}

// syllables approximates the syllable count of a word as its number of vowel
// groups.
func syllables(word, language string) int {
	vowels := "aeiouáéíóúü"
	if language == "en" {
		vowels = "aeiouy"
	}
	n := 0
	prev := false
	for _, r := range strings.ToLower(word) {
		v := strings.ContainsRune(vowels, r)
		if v && !prev {
			n++
		}
		prev = v
	}
	if n == 0 {
		return 1
	}
	return n
}

// readability is Fernández-Huerta for Spanish and Flesch reading ease for
// English.
func readability(m metrics, language string) float64 {
	wps := float64(m.words) / float64(m.sentenceCnt)
	spw := float64(m.syllables) / float64(m.words)
	if language == "en" {
		return clamp(206.835 - 1.015*wps - 84.6*spw)
	}
	return clamp(206.84 - 60*spw - 1.02*wps)
}

// grammarScore estimates accuracy from the density of residual grammar
// detections per ten words.
func grammarScore(text, language string, words int) float64 {
	issues := len(lint.Grammar(text, lint.Options{Language: language}).Issues)
	if issues == 0 {
		return 100
	}
	density := float64(issues) / math.Max(1, float64(words)/10)
	return math.Max(30, 90-10*density)
}

func clarity(text, language string, m metrics) float64 {
	sentences := float64(m.sentenceCnt)
	passive := float64(lint.CountPassive(text, language))
	active := math.Max(50, 100*(1-passive/sentences))
	oneIdea := 100 * float64(m.oneIdea) / sentences
	return clamp((active + oneIdea) / 2)
}

func style(text, language string, m metrics) float64 {
	consistency := 100.0
	if len(m.lengths) >= 2 {
		mean, sd := meanStdev(m.lengths)
		consistency = math.Max(50, 100*(1-sd/mean))
	}
	noise := float64(lint.CountFillers(text, language) + lint.CountRedundancies(text, language))
	precision := math.Max(50, 100-1000*noise/float64(m.words))
	return clamp((consistency + precision) / 2)
}

// meanStdev returns the mean and the sample standard deviation.
func meanStdev(values []int) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	ss := 0.0
	for _, v := range values {
		d := float64(v) - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(values)-1))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
