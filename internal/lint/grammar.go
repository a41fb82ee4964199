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

// abbreviations end with a period without ending the sentence.
var abbreviations = map[string]bool{
	"etc": true, "ej": true, "p": true, "pág": true, "págs": true, "núm": true,
	"sr": true, "sra": true, "srta": true, "dr": true, "dra": true, "ud": true,
	"uds": true, "art": true, "aprox": true, "vs": true, "e.g": true, "i.e": true,
	"mr": true, "mrs": true, "ms": true,
}

var (
	// letter or digit, horizontal space, then punctuation that closes a clause
	reSpaceBeforePunct = regexp.MustCompile(`[\p{L}\p{N}]([ \t]+)(?:[,;:!?]|\.(?:\s|$))`)
	reMissingSpace     = regexp.MustCompile(`[\p{L}\)]([,;])\p{L}`)
	reMultiSpace       = regexp.MustCompile(`\S([ \t]{2,})`)
)

// Grammar checks repeated words, sentence capitalization, Spanish opening
// question and exclamation marks, spacing around punctuation, doubled spaces
// and the common "mas"/"más" confusion.
func Grammar(text string, opts Options) Result {
	var findings []finding
	findings = append(findings, duplicatedWords(text)...)
	sentences := chunker.Sentences(text)
	findings = append(findings, sentenceCapitalization(text, sentences)...)
	if !opts.english() {
		findings = append(findings, openingMarks(sentences)...)
	}
	findings = append(findings, spaceBeforePunctuation(text)...)
	findings = append(findings, missingSpaceAfterPunctuation(text)...)
	findings = append(findings, repeatedSpaces(text)...)
	if !opts.english() {
		findings = append(findings, accentHints(text)...)
	}
	return apply(text, findings, opts.MinSeverity)
}

func duplicatedWords(text string) []finding {
	var out []finding
	words := chunker.Words(text)
	for i := 1; i < len(words); i++ {
		prev, cur := words[i-1], words[i]
		if !strings.EqualFold(prev.Text, cur.Text) || isNumber(cur.Text) {
			continue
		}
		gap := text[prev.End:cur.Start]
		if strings.TrimSpace(gap) != "" || strings.Contains(gap, "\n") {
			continue
		}
		out = append(out, finding{
			issue: internal.Issue{
				Kind:       internal.KindDuplication,
				Span:       internal.Span{Start: prev.Start, End: cur.End},
				Severity:   internal.SeverityMedium,
				Message:    fmt.Sprintf("repeated word %q", lower(cur.Text)),
				Suggestion: prev.Text,
			},
			fix: &edit{start: prev.End, end: cur.End},
		})
	}
	return out
}

// sentenceCapitalization uppercases a lowercase first letter. Markdown block
// lines, URLs and sentences following an abbreviation are left alone.
func sentenceCapitalization(text string, sentences []chunker.Segment) []finding {
	var out []finding
	for _, s := range sentences {
		if chunker.IsBlockLine(s.Text) || followsAbbreviation(text[:s.Start]) {
			continue
		}
		offset := strings.IndexFunc(s.Text, unicode.IsLetter)
		if offset < 0 || strings.TrimLeft(s.Text[:offset], "¿¡\"'«“‘(") != "" {
			continue
		}
		first := firstField(s.Text[offset:])
		if strings.ContainsAny(first, "./@_") || strings.HasPrefix(first, "http") {
			continue
		}
		r, size := utf8.DecodeRuneInString(s.Text[offset:])
		if !unicode.IsLower(r) {
			continue
		}
		pos := s.Start + offset
		upper := string(unicode.ToUpper(r))
		out = append(out, finding{
			issue: internal.Issue{
				Kind:       internal.KindCapitalization,
				Span:       internal.Span{Start: pos, End: pos + size},
				Severity:   internal.SeverityMedium,
				Message:    "sentence starts with a lowercase letter",
				Suggestion: upper,
			},
			fix: &edit{start: pos, end: pos + size, replacement: upper},
		})
	}
	return out
}

func followsAbbreviation(before string) bool {
	before = strings.TrimRightFunc(before, unicode.IsSpace)
	if !strings.HasSuffix(before, ".") {
		return false
	}
	before = strings.TrimSuffix(before, ".")
	idx := strings.LastIndexFunc(before, func(r rune) bool {
		return unicode.IsSpace(r) || r == '(' || r == '"'
	})
	word := lower(before[idx+1:])
	return abbreviations[word] || utf8.RuneCountInString(word) == 1
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// openingMarks adds the Spanish "¿" and "¡" to sentences that only close them.
func openingMarks(sentences []chunker.Segment) []finding {
	var out []finding
	for _, s := range sentences {
		var open, closing string
		switch {
		case strings.HasSuffix(s.Text, "?"):
			open, closing = "¿", "?"
		case strings.HasSuffix(s.Text, "!"):
			open, closing = "¡", "!"
		default:
			continue
		}
		if strings.Contains(s.Text, open) || chunker.IsBlockLine(s.Text) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(s.Text)
		if !unicode.IsLetter(r) {
			continue
		}
		out = append(out, finding{
			issue: internal.Issue{
				Kind:       internal.KindPunctuation,
				Span:       internal.Span{Start: s.Start, End: s.End},
				Severity:   internal.SeverityLow,
				Message:    fmt.Sprintf("missing opening %q for %q", open, closing),
				Suggestion: open + s.Text,
			},
			fix: &edit{start: s.Start, end: s.Start, replacement: open},
		})
	}
	return out
}

func spaceBeforePunctuation(text string) []finding {
	var out []finding
	for _, m := range reSpaceBeforePunct.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		out = append(out, finding{
			issue: internal.Issue{
				Kind:     internal.KindPunctuation,
				Span:     internal.Span{Start: start, End: end + 1},
				Severity: internal.SeverityLow,
				Message:  "space before punctuation",
			},
			fix: &edit{start: start, end: end},
		})
	}
	return out
}

func missingSpaceAfterPunctuation(text string) []finding {
	var out []finding
	for _, m := range reMissingSpace.FindAllStringSubmatchIndex(text, -1) {
		punctEnd := m[3]
		if insideLink(text, punctEnd) {
			continue
		}
		out = append(out, finding{
			issue: internal.Issue{
				Kind:     internal.KindPunctuation,
				Span:     internal.Span{Start: m[2], End: punctEnd},
				Severity: internal.SeverityLow,
				Message:  "missing space after punctuation",
			},
			fix: &edit{start: punctEnd, end: punctEnd, replacement: " "},
		})
	}
	return out
}

// insideLink reports whether pos sits in a whitespace-delimited token that
// looks like a URL, e-mail address or path.
func insideLink(text string, pos int) bool {
	start := strings.LastIndexFunc(text[:pos], unicode.IsSpace) + 1
	end := strings.IndexFunc(text[pos:], unicode.IsSpace)
	if end < 0 {
		end = len(text)
	} else {
		end += pos
	}
	token := text[start:end]
	return strings.Contains(token, "://") || strings.Contains(token, "www.") ||
		strings.ContainsAny(token, "/@`")
}

func repeatedSpaces(text string) []finding {
	var out []finding
	for _, m := range reMultiSpace.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		// trailing spaces before a newline are a markdown line break
		if end == len(text) || text[end] == '\n' || text[end] == '\r' {
			continue
		}
		out = append(out, finding{
			issue: internal.Issue{
				Kind:     internal.KindSpacing,
				Span:     internal.Span{Start: start, End: end},
				Severity: internal.SeverityLow,
				Message:  "repeated spaces",
			},
			fix: &edit{start: start, end: end, replacement: " "},
		})
	}
	return out
}

func accentHints(text string) []finding {
	var out []finding
	for _, w := range chunker.Words(text) {
		if w.Text != "mas" {
			continue
		}
		out = append(out, finding{
			issue: internal.Issue{
				Kind:       internal.KindAccent,
				Span:       internal.Span{Start: w.Start, End: w.End},
				Severity:   internal.SeverityLow,
				Message:    `"mas" means "but"; the quantity adverb is "más"`,
				Suggestion: "más",
			},
		})
	}
	return out
}
