package lint

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/chunker"
)

const (
	// MaxTitleRunes is the title length search engines display in full.
	MaxTitleRunes = 60
	// MinWordsForHeading is the length above which a web text needs a heading.
	MinWordsForHeading = 150
	// MaxParagraphWords is the paragraph length reported as too long.
	MaxParagraphWords = 300
	// MinKeywordDensity and MaxKeywordDensity bound the keyword density, in
	// percent of all words.
	MinKeywordDensity = 0.5
	MaxKeywordDensity = 3.0
)

var (
	reHeadingNoSpace = regexp.MustCompile(`^(#{1,6})[^#\s]`)
	reHeading        = regexp.MustCompile(`^#{1,6}[ \t]*(.*?)[ \t#]*$`)
)

type line struct {
	start int
	text  string
}

// markdownLines returns the lines of text outside fenced code blocks.
func markdownLines(text string) []line {
	var out []line
	inFence := false
	start := 0
	for start <= len(text) {
		end := strings.IndexByte(text[start:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += start
		}
		l := strings.TrimRight(text[start:end], "\r")
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			inFence = !inFence
		} else if !inFence {
			out = append(out, line{start: start, text: l})
		}
		start = end + 1
	}
	return out
}

// SEO checks heading syntax, title length, heading presence, paragraph
// length and keyword density of a web text.
func SEO(text string, opts Options) Result {
	lines := markdownLines(text)
	var findings []finding
	findings = append(findings, headingFormat(lines)...)
	findings = append(findings, titleLength(text)...)
	findings = append(findings, missingHeading(text, lines)...)
	findings = append(findings, longParagraphs(text)...)
	findings = append(findings, keywordDensity(text, opts.Keywords)...)
	return apply(text, findings, opts.MinSeverity)
}

func headingFormat(lines []line) []finding {
	var out []finding
	for _, l := range lines {
		m := reHeadingNoSpace.FindStringSubmatchIndex(l.text)
		if m == nil {
			continue
		}
		pos := l.start + m[3]
		out = append(out, finding{
			issue: internal.Issue{
				Kind:     internal.KindHeadingFormat,
				Span:     internal.Span{Start: l.start, End: l.start + len(l.text)},
				Severity: internal.SeverityLow,
				Message:  "heading marker must be followed by a space",
			},
			fix: &edit{start: pos, end: pos, replacement: " "},
		})
	}
	return out
}

// Title returns the text of the first heading in a markdown text, accepting
// headings without a space after the marker.
func Title(text string) (string, internal.Span, bool) {
	for _, l := range markdownLines(text) {
		if !strings.HasPrefix(l.text, "#") {
			continue
		}
		m := reHeading.FindStringSubmatchIndex(l.text)
		if m == nil || m[2] == m[3] {
			continue
		}
		return l.text[m[2]:m[3]], internal.Span{Start: l.start + m[2], End: l.start + m[3]}, true
	}
	return "", internal.Span{}, false
}

func titleLength(text string) []finding {
	title, span, ok := Title(text)
	if !ok {
		return nil
	}
	n := utf8.RuneCountInString(title)
	if n <= MaxTitleRunes {
		return nil
	}
	return []finding{{
		issue: internal.Issue{
			Kind:      internal.KindTitleTooLong,
			Span:      span,
			Severity:  internal.SeverityMedium,
			Message:   fmt.Sprintf("title has %d characters (max %d)", n, MaxTitleRunes),
			Threshold: MaxTitleRunes,
		},
	}}
}

func missingHeading(text string, lines []line) []finding {
	if len(chunker.Words(text)) <= MinWordsForHeading {
		return nil
	}
	for _, l := range lines {
		if strings.HasPrefix(l.text, "#") {
			return nil
		}
	}
	end := strings.IndexByte(text, '\n')
	if end < 0 {
		end = len(text)
	}
	return []finding{{
		issue: internal.Issue{
			Kind:      internal.KindMissingHeading,
			Span:      internal.Span{Start: 0, End: end},
			Severity:  internal.SeverityLow,
			Message:   "long web text without headings",
			Threshold: MinWordsForHeading,
		},
	}}
}

func longParagraphs(text string) []finding {
	var out []finding
	for _, p := range chunker.Paragraphs(text) {
		n := len(chunker.Words(p.Text))
		if n <= MaxParagraphWords {
			continue
		}
		out = append(out, finding{
			issue: internal.Issue{
				Kind:      internal.KindParagraphTooLong,
				Span:      internal.Span{Start: p.Start, End: p.End},
				Severity:  internal.SeverityLow,
				Message:   fmt.Sprintf("paragraph has %d words (max %d)", n, MaxParagraphWords),
				Threshold: MaxParagraphWords,
			},
		})
	}
	return out
}

// KeywordDensity returns how many times keyword occurs in text as a word
// sequence, its density in percent of all words and the span of its first
// occurrence.
func KeywordDensity(text, keyword string) (int, float64, internal.Span) {
	words := chunker.Words(text)
	kw := chunker.Words(keyword)
	if len(words) == 0 || len(kw) == 0 {
		return 0, 0, internal.Span{}
	}
	count := 0
	var first internal.Span
	for i := 0; i+len(kw) <= len(words); i++ {
		match := true
		for j := range kw {
			if !strings.EqualFold(words[i+j].Text, kw[j].Text) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if count == 0 {
			first = internal.Span{Start: words[i].Start, End: words[i+len(kw)-1].End}
		}
		count++
	}
	density := float64(count*len(kw)) / float64(len(words)) * 100
	return count, density, first
}

func keywordDensity(text string, keywords []string) []finding {
	var out []finding
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		count, density, span := KeywordDensity(text, k)
		switch {
		case count == 0:
			out = append(out, finding{
				issue: internal.Issue{
					Kind:     internal.KindKeywordDensity,
					Severity: internal.SeverityLow,
					Message:  fmt.Sprintf("keyword %q does not appear", k),
				},
			})
		case density < MinKeywordDensity:
			out = append(out, finding{
				issue: internal.Issue{
					Kind:     internal.KindKeywordDensity,
					Span:     span,
					Severity: internal.SeverityLow,
					Message:  fmt.Sprintf("keyword %q density %.1f%% (min %.1f%%)", k, density, MinKeywordDensity),
				},
			})
		case density > MaxKeywordDensity:
			out = append(out, finding{
				issue: internal.Issue{
					Kind:      internal.KindKeywordDensity,
					Span:      span,
					Severity:  internal.SeverityMedium,
					Message:   fmt.Sprintf("keyword %q density %.1f%% (max %.0f%%)", k, density, MaxKeywordDensity),
					Threshold: MaxKeywordDensity,
				},
			})
		}
	}
	return out
}
