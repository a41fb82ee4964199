package unit

import (
	"context"
	"regexp"
	"unicode/utf8"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/lint"
	"github.com/valpere/aclarador/internal/logger"
)

// minDetectRunes is the shortest text whose language is detected; shorter
// texts take the default language.
const minDetectRunes = 20

// DefaultLanguage is used when the language is neither given nor detectable.
const DefaultLanguage = "es"

var (
	reWebHeading = regexp.MustCompile(`(?m)^#{1,6}[^#\n]`)
	reWebURL     = regexp.MustCompile(`https?://|www\.`)
)

// LanguageDetector is satisfied by *detector.Detector.
type LanguageDetector interface {
	DetectISO(text string) (string, bool)
}

type ruleCheck struct {
	capability Capability
	run        func(string, lint.Options) lint.Result
}

// Analyzer resolves the document language and type, runs every detector and
// recommends the correction units that have work to do.
type Analyzer struct {
	det LanguageDetector
}

// NewAnalyzer returns an analyzer. A nil detector leaves undeclared
// languages at DefaultLanguage.
func NewAnalyzer(det LanguageDetector) *Analyzer {
	return &Analyzer{det: det}
}

func (a *Analyzer) ID() string { return "analyzer/1" }

func (a *Analyzer) Capability() Capability { return CapAnalyze }

func (a *Analyzer) Process(ctx context.Context, doc internal.Document, uctx Context) (*Result, error) {
	if err := checkInput(ctx, a.ID(), doc); err != nil {
		return nil, err
	}

	out := doc
	out.Language = a.language(doc, uctx)
	out.DeclaredType = classify(doc, uctx)

	opts := lintOptions(out.Language, uctx)
	res := &Result{UnitID: a.ID(), Output: out, Confidence: 0.9}

	checks := []ruleCheck{{CapGrammar, lint.Grammar}, {CapStyle, lint.Style}}
	if out.DeclaredType == internal.TypeWeb {
		checks = append(checks, ruleCheck{CapSEO, lint.SEO})
	}
	for _, c := range checks {
		issues := c.run(doc.Text, opts).Issues
		if len(issues) == 0 {
			continue
		}
		res.Issues = append(res.Issues, issues...)
		res.Recommended = append(res.Recommended, c.capability)
	}

	logger.Debug("analyzer: lang=%s type=%s issues=%d recommended=%v",
		out.Language, out.DeclaredType, len(res.Issues), res.Recommended)
	return res, nil
}

func (a *Analyzer) language(doc internal.Document, uctx Context) string {
	if doc.Language != "" {
		return doc.Language
	}
	if lang := uctx.Language(); lang != "" {
		return lang
	}
	if a.det != nil && utf8.RuneCountInString(doc.Text) >= minDetectRunes {
		if lang, ok := a.det.DetectISO(doc.Text); ok {
			return lang
		}
	}
	return DefaultLanguage
}

func classify(doc internal.Document, uctx Context) string {
	for _, t := range []string{doc.DeclaredType, uctx.DeclaredType()} {
		if t == internal.TypeDocument || t == internal.TypeWeb {
			return t
		}
	}
	if reWebHeading.MatchString(doc.Text) || reWebURL.MatchString(doc.Text) {
		return internal.TypeWeb
	}
	return internal.TypeDocument
}
