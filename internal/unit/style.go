package unit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/chunker"
	"github.com/valpere/aclarador/internal/completion"
	"github.com/valpere/aclarador/internal/lint"
	"github.com/valpere/aclarador/internal/logger"
	"github.com/valpere/aclarador/internal/placeholder"
)

const (
	// DefaultChunkRunes bounds the text sent in one completion request.
	DefaultChunkRunes = 4000

	maxPromptProblems = 10
	minRewriteRatio   = 0.5
	maxRewriteRatio   = 1.5
)

var errRewriteRejected = errors.New("rewrite rejected")

// Style shortens long sentences, removes filler words and reports passive
// voice, long words and redundancies. With a completion service it asks for
// a full rewrite when sentences are too long or passive.
type Style struct {
	svc        completion.Service
	chunkRunes int
}

// NewStyle returns a style unit. svc may be nil.
func NewStyle(svc completion.Service) *Style {
	return &Style{svc: svc, chunkRunes: DefaultChunkRunes}
}

func (s *Style) ID() string {
	if s.svc == nil {
		return "style/1"
	}
	return "style/1+" + s.svc.Name()
}

func (s *Style) Capability() Capability { return CapStyle }

func (s *Style) Process(ctx context.Context, doc internal.Document, uctx Context) (*Result, error) {
	if err := checkInput(ctx, s.ID(), doc); err != nil {
		return nil, err
	}
	lang, _ := resolve(doc, uctx)
	heuristic := lint.Style(doc.Text, lintOptions(lang, uctx))

	if s.svc == nil || !needsRewrite(heuristic.Issues) {
		return finish(s.ID(), doc, heuristic, 0.8, uctx), nil
	}

	text, err := s.rewrite(ctx, doc.Text, lang, heuristic.Issues, uctx)
	switch {
	case err == nil && text == doc.Text:
		return finish(s.ID(), doc, lint.Result{Text: doc.Text, Issues: heuristic.Issues}, 0.8, uctx), nil
	case err == nil:
		return &Result{
			UnitID:     s.ID(),
			Output:     doc.Next(text),
			Issues:     heuristic.Issues,
			Citations:  uctx.citations(),
			Confidence: 0.8,
		}, nil
	case ctx.Err() != nil:
		return nil, wrapErr(s.ID(), ctx.Err())
	case errors.Is(err, errRewriteRejected):
		logger.Debug("style: %v, keeping heuristic edits", err)
		return finish(s.ID(), doc, heuristic, 0.8, uctx), nil
	default:
		logger.Warn("style: completion failed, falling back to heuristics: %v", err)
		res := finish(s.ID(), doc, heuristic, 0.8, uctx)
		res.Degraded = true
		return res, nil
	}
}

func needsRewrite(issues []internal.Issue) bool {
	for _, is := range issues {
		if is.Kind == internal.KindSentenceTooLong || is.Kind == internal.KindPassiveVoice {
			return true
		}
	}
	return false
}

// rewrite sends text to the completion service chunk by chunk with markup
// shielded, and accepts the result only if every marker survived and the
// word count stayed within bounds.
func (s *Style) rewrite(ctx context.Context, text, lang string, issues []internal.Issue, uctx Context) (string, error) {
	prot := placeholder.Protect(text)
	hint := ""
	if len(prot.Markers) > 0 {
		hint = placeholder.InstructionHint()
	}
	problems := describe(issues)
	guidance := uctx.guidanceTexts()

	var parts []string
	prev := ""
	for _, chunk := range chunker.Chunk(prot.Text, s.chunkRunes) {
		extra := hint
		if prev != "" {
			extra = strings.TrimSpace(extra + "\nPrevious text, for context only (do not rewrite it): " + prev)
		}
		out, err := s.svc.Complete(ctx, completion.RewritePrompt(chunk, lang, problems, guidance, extra))
		if err != nil {
			return "", err
		}
		parts = append(parts, out)
		prev = chunker.ExtractContext(out, chunker.DefaultContextWords)
	}

	joined := strings.Join(parts, "\n\n")
	if missing := prot.Missing(joined); len(missing) > 0 {
		return "", fmt.Errorf("%w: %d protected segments lost", errRewriteRejected, len(missing))
	}
	result := internal.NormalizeText(prot.Restore(joined))

	before, after := len(chunker.Words(text)), len(chunker.Words(result))
	ratio := float64(after) / float64(max(before, 1))
	if ratio < minRewriteRatio || ratio > maxRewriteRatio {
		return "", fmt.Errorf("%w: word count went from %d to %d", errRewriteRejected, before, after)
	}
	return result, nil
}

func describe(issues []internal.Issue) []string {
	var out []string
	for _, is := range issues {
		if len(out) == maxPromptProblems {
			break
		}
		out = append(out, fmt.Sprintf("%s: %s", is.Kind, is.Message))
	}
	return out
}
