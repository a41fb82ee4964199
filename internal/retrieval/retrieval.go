// Package retrieval finds style guidelines relevant to the problems a unit is
// about to fix. Guidelines come from a YAML catalog (an embedded default is
// built in) or from the store.
package retrieval

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/valpere/aclarador/internal"
)

// DefaultTopK is the number of guidelines handed to a unit.
const DefaultTopK = 3

//go:embed guidelines.yaml
var defaultCatalog []byte

// Guideline is one retrievable rule.
type Guideline struct {
	ID       string   `yaml:"id" json:"id"`
	Source   string   `yaml:"source" json:"source"`
	Locator  string   `yaml:"locator" json:"locator"`
	Language string   `yaml:"language" json:"language"`
	Topics   []string `yaml:"topics" json:"topics"`
	Text     string   `yaml:"text" json:"text"`
	Weight   float64  `yaml:"weight" json:"weight"`
	// Score is set by Retrieve.
	Score float64 `yaml:"-" json:"score,omitempty"`
}

// Citation returns the reference a unit attaches to its result.
func (g Guideline) Citation() internal.Citation {
	return internal.Citation{
		SourceLabel:    g.Source,
		Locator:        g.Locator,
		RelevanceScore: math.Round(g.Score*1000) / 1000,
	}
}

// Service returns up to topK guidelines for a query, best first.
type Service interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Guideline, error)
}

type catalogFile struct {
	Guidelines []Guideline `yaml:"guidelines"`
}

// Catalog is an in-memory guideline collection.
type Catalog struct {
	entries []Guideline
}

// ParseCatalogYAML decodes a catalog. Entries need an id and a text; a
// missing weight counts as 1.
func ParseCatalogYAML(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("retrieval: catalog is empty")
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("retrieval: decode catalog: %w", err)
	}
	seen := make(map[string]bool, len(file.Guidelines))
	for i := range file.Guidelines {
		g := &file.Guidelines[i]
		g.ID = strings.TrimSpace(g.ID)
		g.Text = strings.TrimSpace(g.Text)
		if g.ID == "" || g.Text == "" {
			return nil, fmt.Errorf("retrieval: guideline %d needs an id and a text", i+1)
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("retrieval: duplicate guideline id %q", g.ID)
		}
		seen[g.ID] = true
		if g.Weight <= 0 {
			g.Weight = 1
		}
	}
	return &Catalog{entries: file.Guidelines}, nil
}

// LoadCatalogReader reads a catalog from r.
func LoadCatalogReader(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("retrieval: read catalog: %w", err)
	}
	return ParseCatalogYAML(data)
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: read %s: %w", path, err)
	}
	c, err := ParseCatalogYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// DefaultCatalog returns the built-in plain-language guidelines.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalogYAML(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Entries returns a copy of the catalog entries.
func (c *Catalog) Entries() []Guideline {
	return append([]Guideline(nil), c.entries...)
}

func (c *Catalog) Retrieve(ctx context.Context, query string, topK int) ([]Guideline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Rank(c.entries, query, topK), nil
}

// Rank scores entries by diacritic-insensitive term overlap with query,
// normalized by the geometric mean of both term counts and multiplied by the
// entry weight. Entries without overlap are dropped; ties keep id order.
func Rank(entries []Guideline, query string, topK int) []Guideline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	q := terms(query)
	if len(q) == 0 {
		return nil
	}

	var out []Guideline
	for _, g := range entries {
		gt := terms(g.Text + " " + strings.Join(g.Topics, " "))
		overlap := 0
		for t := range q {
			if gt[t] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		weight := g.Weight
		if weight <= 0 {
			weight = 1
		}
		g.Score = float64(overlap) / math.Sqrt(float64(len(q)*len(gt))) * weight
		out = append(out, g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

var stopwords = map[string]bool{
	"para": true, "por": true, "con": true, "los": true, "las": true, "del": true,
	"una": true, "uno": true, "que": true, "como": true, "sus": true, "sin": true,
	"the": true, "and": true, "for": true, "with": true, "are": true, "not": true,
}

// Fold lowercases s and strips diacritics: "Oración" becomes "oracion".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func terms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < 3 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

var topicTerms = map[string]string{
	"grammar": "gramática concordancia puntuación grammar",
	"style":   "estilo claridad oración style",
	"seo":     "web buscadores títulos encabezados seo",
}

var issueTerms = map[internal.IssueKind]string{
	internal.KindDuplication:      "palabras repetidas",
	internal.KindSpacing:          "espacio puntuación",
	internal.KindPunctuation:      "signos puntuación coma apertura",
	internal.KindCapitalization:   "mayúscula oración",
	internal.KindAccent:           "tildes diacríticas",
	internal.KindSentenceTooLong:  "oraciones largas palabras idea sentences words",
	internal.KindPassiveVoice:     "voz pasiva activa voice",
	internal.KindFillerWord:       "muletillas relleno",
	internal.KindComplexWord:      "jerga palabras complejas vocabulario jargon",
	internal.KindRedundancy:       "expresiones redundantes",
	internal.KindHeadingFormat:    "encabezados formato",
	internal.KindTitleTooLong:     "títulos caracteres",
	internal.KindMissingHeading:   "encabezados texto largo",
	internal.KindParagraphTooLong: "párrafos cortos",
	internal.KindKeywordDensity:   "densidad palabras clave",
}

// BuildQuery describes what a unit is about to work on: its topic plus the
// kinds of issues found in the text.
func BuildQuery(topic string, issues []internal.Issue) string {
	parts := []string{topicTerms[topic]}
	seen := make(map[internal.IssueKind]bool)
	for _, is := range issues {
		if seen[is.Kind] {
			continue
		}
		seen[is.Kind] = true
		if t, ok := issueTerms[is.Kind]; ok {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
