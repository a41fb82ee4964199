package internal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Declared text types understood by the units.
const (
	TypeAuto     = "auto"
	TypeDocument = "document"
	TypeWeb      = "web"
)

// DefaultMaxInputRunes bounds the size of a single refinement request.
const DefaultMaxInputRunes = 20000

// Document is an immutable snapshot of the text being refined. Every change
// produces a new Document with a higher Version.
type Document struct {
	Text         string `json:"text"`
	Language     string `json:"language"`
	DeclaredType string `json:"declared_type"`
	Version      int    `json:"version"`
}

// NewDocument normalizes text to NFC, trims surrounding whitespace and
// canonicalizes the language tag to its base ISO 639-1 code.
func NewDocument(text, lang, declaredType string) Document {
	if declaredType == "" {
		declaredType = TypeAuto
	}
	return Document{
		Text:         NormalizeText(text),
		Language:     CanonicalLanguage(lang),
		DeclaredType: declaredType,
	}
}

// Next returns a copy of d carrying text and the next version number.
func (d Document) Next(text string) Document {
	d.Text = text
	d.Version++
	return d
}

// WithVersion returns a copy of d with the given version.
func (d Document) WithVersion(v int) Document {
	d.Version = v
	return d
}

// NormalizeText trims whitespace and applies Unicode NFC normalization.
func NormalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// CanonicalLanguage turns "es-ES", "ES" or "spa" into "es". Unknown or empty
// input yields "".
func CanonicalLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// Severity orders issues for filtering.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity accepts low, medium or high. Anything else maps to low.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IssueKind names a detected problem.
type IssueKind string

const (
	KindDuplication      IssueKind = "Duplication"
	KindSpacing          IssueKind = "Spacing"
	KindPunctuation      IssueKind = "Punctuation"
	KindCapitalization   IssueKind = "Capitalization"
	KindAccent           IssueKind = "Accent"
	KindSentenceTooLong  IssueKind = "SentenceTooLong"
	KindPassiveVoice     IssueKind = "PassiveVoice"
	KindFillerWord       IssueKind = "FillerWord"
	KindComplexWord      IssueKind = "ComplexVocabulary"
	KindRedundancy       IssueKind = "Redundancy"
	KindHeadingFormat    IssueKind = "HeadingFormat"
	KindTitleTooLong     IssueKind = "TitleTooLong"
	KindMissingHeading   IssueKind = "MissingHeading"
	KindParagraphTooLong IssueKind = "ParagraphTooLong"
	KindKeywordDensity   IssueKind = "KeywordDensity"
	KindLanguageMismatch IssueKind = "LanguageMismatch"
)

// Span is a byte range [Start, End) in the text a unit received.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Issue struct {
	Kind       IssueKind `json:"kind"`
	Span       Span      `json:"span"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Threshold  int       `json:"threshold,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Citation points at a guideline that supports a change.
type Citation struct {
	SourceLabel    string  `json:"source_label"`
	Locator        string  `json:"locator"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RefinementRequest is the persisted form of a refine invocation.
type RefinementRequest struct {
	ID           string    `json:"id"`
	SourceText   string    `json:"source_text"`
	Language     string    `json:"language"`
	DeclaredType string    `json:"declared_type"`
	Mode         string    `json:"mode"`
	Timestamp    time.Time `json:"timestamp"`
}

// InputError rejects a request before any pass runs. It is the only error
// that aborts a refinement.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// ValidateInput checks that text is non-empty and at most maxRunes long.
// maxRunes <= 0 selects DefaultMaxInputRunes.
func ValidateInput(text string, maxRunes int) error {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxInputRunes
	}
	if strings.TrimSpace(text) == "" {
		return &InputError{Reason: "text is empty"}
	}
	if n := utf8.RuneCountInString(text); n > maxRunes {
		return &InputError{Reason: fmt.Sprintf("text has %d characters, limit is %d", n, maxRunes)}
	}
	return nil
}
