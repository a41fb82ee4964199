package unit

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/completion"
	"github.com/valpere/aclarador/internal/lint"
	"github.com/valpere/aclarador/internal/logger"
)

// SEO checks web texts. Documents of any other type pass through untouched.
type SEO struct {
	svc completion.Service
}

// NewSEO returns an SEO unit. svc, when set, shortens long titles.
func NewSEO(svc completion.Service) *SEO {
	return &SEO{svc: svc}
}

func (s *SEO) ID() string {
	if s.svc == nil {
		return "seo/1"
	}
	return "seo/1+" + s.svc.Name()
}

func (s *SEO) Capability() Capability { return CapSEO }

func (s *SEO) Process(ctx context.Context, doc internal.Document, uctx Context) (*Result, error) {
	if err := checkInput(ctx, s.ID(), doc); err != nil {
		return nil, err
	}
	lang, typ := resolve(doc, uctx)
	if typ != internal.TypeWeb {
		return &Result{UnitID: s.ID(), Output: doc, Confidence: 0.75}, nil
	}

	res := finish(s.ID(), doc, lint.SEO(doc.Text, lintOptions(lang, uctx)), 0.75, uctx)
	if s.svc == nil || !hasKind(res.Issues, internal.KindTitleTooLong) {
		return res, nil
	}

	text := res.Output.Text
	title, span, ok := lint.Title(text)
	if !ok {
		return res, nil
	}
	short, err := s.svc.Complete(ctx, completion.TitlePrompt(title, lang, lint.MaxTitleRunes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapErr(s.ID(), ctx.Err())
		}
		logger.Warn("seo: title rewrite failed: %v", err)
		res.Degraded = true
		return res, nil
	}

	short = strings.TrimSpace(strings.TrimLeft(firstLine(short), "# "))
	if n := utf8.RuneCountInString(short); n == 0 || n > lint.MaxTitleRunes {
		logger.Debug("seo: discarding title suggestion of %d characters", n)
		return res, nil
	}
	res.Output = doc.Next(text[:span.Start] + short + text[span.End:])
	return res, nil
}

func hasKind(issues []internal.Issue, kind internal.IssueKind) bool {
	for _, is := range issues {
		if is.Kind == kind {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
