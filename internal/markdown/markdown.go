// Package markdown reads the structure of markdown documents: plain text for
// scoring and headings for SEO checks.
package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Heading is a markdown heading with its nesting level (1 for "#").
type Heading struct {
	Level int
	Text  string
}

// A parser is single-use, so each call builds a fresh one.
func parse(md []byte) ast.Node {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Attributes)
	return p.Parse(md)
}

func ToHTML(md []byte) string {
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	return string(markdown.Render(parse(md), renderer))
}

// ToPlainText renders md to HTML, drops the tags and unescapes entities.
// Block elements are separated by blank lines so sentence splitting still
// sees headings and list items as separate units.
func ToPlainText(md []byte) string {
	text := StripHTMLTags(ToHTML(md))
	text = html.UnescapeString(text)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n\n")
}

func StripHTMLTags(htmlContent string) string {
	var result bytes.Buffer
	inTag := false

	for _, ch := range htmlContent {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				result.WriteRune(ch)
			}
		}
	}

	return result.String()
}

// Headings returns the document headings in order.
func Headings(md []byte) []Heading {
	var out []Heading
	ast.WalkFunc(parse(md), func(node ast.Node, entering bool) ast.WalkStatus {
		h, ok := node.(*ast.Heading)
		if !ok || !entering {
			return ast.GoToNext
		}
		out = append(out, Heading{Level: h.Level, Text: strings.TrimSpace(nodeText(h))})
		return ast.SkipChildren
	})
	return out
}

func nodeText(n ast.Node) string {
	var sb strings.Builder
	ast.WalkFunc(n, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch v := node.(type) {
		case *ast.Text:
			sb.Write(v.Literal)
		case *ast.Code:
			sb.Write(v.Literal)
		}
		return ast.GoToNext
	})
	return sb.String()
}
