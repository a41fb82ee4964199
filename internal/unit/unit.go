// Package unit defines the contract shared by analysis and correction units
// and the concrete units the coordinator runs in a pass.
package unit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/lint"
	"github.com/valpere/aclarador/internal/quality"
)

// Capability tags what a unit does.
type Capability string

const (
	CapAnalyze  Capability = "analyze"
	CapGrammar  Capability = "grammar"
	CapStyle    Capability = "style"
	CapSEO      Capability = "seo"
	CapValidate Capability = "validate"
)

// Priority is the order in which correction units run and are merged.
var Priority = []Capability{CapGrammar, CapStyle, CapSEO}

// IsCorrection reports whether c is a correction capability.
func IsCorrection(c Capability) bool {
	return priorityOf(c) >= 0
}

func priorityOf(c Capability) int {
	for i, p := range Priority {
		if p == c {
			return i
		}
	}
	return -1
}

// Ordered returns the correction capabilities of caps in priority order,
// without duplicates.
func Ordered(caps []Capability) []Capability {
	seen := make(map[Capability]bool, len(caps))
	var out []Capability
	for _, c := range caps {
		if IsCorrection(c) && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityOf(out[i]) < priorityOf(out[j])
	})
	return out
}

// ParseCapabilities accepts a comma separated list such as "grammar,style".
func ParseCapabilities(s string) ([]Capability, error) {
	var out []Capability
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		c := Capability(part)
		if !IsCorrection(c) {
			return nil, fmt.Errorf("unknown correction unit %q (want grammar, style or seo)", part)
		}
		out = append(out, c)
	}
	return Ordered(out), nil
}

// Unit is one analysis or correction step. Process must not mutate doc or
// any state shared with other calls.
type Unit interface {
	ID() string
	Capability() Capability
	Process(ctx context.Context, doc internal.Document, uctx Context) (*Result, error)
}

// Result is what a unit returns. Output is the unit's document after its
// changes; it equals the input when nothing changed.
type Result struct {
	UnitID     string              `json:"unit_id"`
	Output     internal.Document   `json:"output"`
	Issues     []internal.Issue    `json:"issues,omitempty"`
	Citations  []internal.Citation `json:"citations,omitempty"`
	Confidence float64             `json:"confidence"`
	Degraded   bool                `json:"degraded,omitempty"`
	// Recommended is filled by the analyzer.
	Recommended []Capability `json:"recommended,omitempty"`
	// Scores is filled by the validator.
	Scores *quality.Snapshot `json:"scores,omitempty"`
}

// Changed reports whether the unit altered the text of in.
func (r *Result) Changed(in internal.Document) bool {
	return r != nil && r.Output.Text != in.Text
}

// ErrorKind classifies a unit failure.
type ErrorKind int

const (
	InvalidInput ErrorKind = iota + 1
	Timeout
	UpstreamUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case Timeout:
		return "timeout"
	case UpstreamUnavailable:
		return "upstream unavailable"
	default:
		return "unknown"
	}
}

// Error is the only error type units return.
type Error struct {
	Kind ErrorKind
	Unit string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Unit, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr classifies err for unitID. Context expiry and cancellation both
// count as Timeout.
func wrapErr(unitID string, err error) error {
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}
	kind := UpstreamUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = Timeout
	}
	return &Error{Kind: kind, Unit: unitID, Err: err}
}

func checkInput(ctx context.Context, unitID string, doc internal.Document) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: Timeout, Unit: unitID, Err: err}
	}
	if strings.TrimSpace(doc.Text) == "" {
		return &Error{Kind: InvalidInput, Unit: unitID, Err: errors.New("empty text")}
	}
	return nil
}

// Guidance is a retrieved guideline handed to a unit.
type Guidance struct {
	Text     string
	Citation internal.Citation
}

// Context is request-scoped input shared by all units of a pass. It is a
// value: the With methods return modified copies.
type Context struct {
	declaredType string
	language     string
	minSeverity  internal.Severity
	keywords     []string
	guidance     []Guidance
}

// NewContext returns a context with the given request hints. Empty values
// let the analyzer decide.
func NewContext(language, declaredType string) Context {
	return Context{
		language:     internal.CanonicalLanguage(language),
		declaredType: declaredType,
		minSeverity:  internal.SeverityLow,
	}
}

func (c Context) DeclaredType() string { return c.declaredType }

func (c Context) Language() string { return c.language }

func (c Context) MinSeverity() internal.Severity {
	if c.minSeverity == 0 {
		return internal.SeverityLow
	}
	return c.minSeverity
}

func (c Context) Keywords() []string { return append([]string(nil), c.keywords...) }

func (c Context) Guidance() []Guidance { return append([]Guidance(nil), c.guidance...) }

func (c Context) WithDeclaredType(t string) Context {
	c.declaredType = t
	return c
}

func (c Context) WithLanguage(lang string) Context {
	c.language = internal.CanonicalLanguage(lang)
	return c
}

func (c Context) WithMinSeverity(s internal.Severity) Context {
	c.minSeverity = s
	return c
}

func (c Context) WithKeywords(keywords ...string) Context {
	c.keywords = nil
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c
}

func (c Context) WithGuidance(g []Guidance) Context {
	c.guidance = append([]Guidance(nil), g...)
	return c
}

// Fingerprint hashes every field that can change a unit's output.
func (c Context) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "type=%s\x00lang=%s\x00sev=%d\x00", c.declaredType, c.language, c.MinSeverity())
	for _, k := range c.keywords {
		fmt.Fprintf(h, "kw=%s\x00", strings.ToLower(k))
	}
	for _, g := range c.guidance {
		fmt.Fprintf(h, "g=%s\x00%s\x00", g.Citation.SourceLabel, g.Text)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (c Context) citations() []internal.Citation {
	if len(c.guidance) == 0 {
		return nil
	}
	out := make([]internal.Citation, len(c.guidance))
	for i, g := range c.guidance {
		out[i] = g.Citation
	}
	return out
}

func (c Context) guidanceTexts() []string {
	out := make([]string, 0, len(c.guidance))
	for _, g := range c.guidance {
		out = append(out, g.Text)
	}
	return out
}

// resolve returns the language and declared type a correction unit works
// with: the document's when the analyzer set them, else the context's.
func resolve(doc internal.Document, uctx Context) (string, string) {
	lang := doc.Language
	if lang == "" {
		lang = uctx.Language()
	}
	typ := doc.DeclaredType
	if typ == "" || typ == internal.TypeAuto {
		typ = uctx.DeclaredType()
	}
	if typ == "" || typ == internal.TypeAuto {
		typ = internal.TypeDocument
	}
	return lang, typ
}

func lintOptions(lang string, uctx Context) lint.Options {
	return lint.Options{
		Language:    lang,
		MinSeverity: uctx.MinSeverity(),
		Keywords:    uctx.Keywords(),
	}
}

// finish builds the result of a rule-based correction unit.
func finish(id string, doc internal.Document, res lint.Result, confidence float64, uctx Context) *Result {
	out := &Result{
		UnitID:     id,
		Output:     doc,
		Issues:     res.Issues,
		Confidence: confidence,
	}
	if res.Changed() {
		out.Output = doc.Next(res.Text)
	}
	if len(res.Issues) > 0 {
		out.Citations = uctx.citations()
	}
	return out
}

// CapabilityOf returns the correction capability whose rules report kind.
// Kinds no correction unit owns map to CapValidate.
func CapabilityOf(kind internal.IssueKind) Capability {
	switch kind {
	case internal.KindDuplication, internal.KindSpacing, internal.KindPunctuation,
		internal.KindCapitalization, internal.KindAccent:
		return CapGrammar
	case internal.KindSentenceTooLong, internal.KindPassiveVoice, internal.KindFillerWord,
		internal.KindComplexWord, internal.KindRedundancy:
		return CapStyle
	case internal.KindHeadingFormat, internal.KindTitleTooLong, internal.KindMissingHeading,
		internal.KindParagraphTooLong, internal.KindKeywordDensity:
		return CapSEO
	default:
		return CapValidate
	}
}
