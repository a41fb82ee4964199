package unit

import (
	"context"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/lint"
)

// Grammar fixes repeated words, spacing, punctuation and capitalization.
type Grammar struct{}

func NewGrammar() *Grammar { return &Grammar{} }

func (g *Grammar) ID() string { return "grammar/1" }

func (g *Grammar) Capability() Capability { return CapGrammar }

func (g *Grammar) Process(ctx context.Context, doc internal.Document, uctx Context) (*Result, error) {
	if err := checkInput(ctx, g.ID(), doc); err != nil {
		return nil, err
	}
	lang, _ := resolve(doc, uctx)
	return finish(g.ID(), doc, lint.Grammar(doc.Text, lintOptions(lang, uctx)), 0.85, uctx), nil
}
