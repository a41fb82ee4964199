// Package lint holds the rule heuristics behind the correction units. Each
// rule set inspects a text, reports issues with byte spans into that text and
// proposes non-overlapping edits. Rules are deterministic: the same text and
// options always yield the same issues and the same rewritten text.
package lint

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/aclarador/internal"
)

// DefaultMaxSentenceWords is the sentence length above which a sentence is
// reported as too long.
const DefaultMaxSentenceWords = 30

// Options tune a rule run.
type Options struct {
	// Language selects language-specific word lists; "en" or anything else
	// (treated as Spanish).
	Language string
	// MinSeverity drops findings below it; they are neither reported nor fixed.
	MinSeverity internal.Severity
	// MaxSentenceWords defaults to DefaultMaxSentenceWords.
	MaxSentenceWords int
	// Keywords are the SEO target phrases.
	Keywords []string
}

func (o Options) english() bool {
	return o.Language == "en"
}

func (o Options) maxWords() int {
	if o.MaxSentenceWords > 0 {
		return o.MaxSentenceWords
	}
	return DefaultMaxSentenceWords
}

// Result is the outcome of a rule run.
type Result struct {
	Text   string
	Issues []internal.Issue
	// Applied counts the edits that made it into Text.
	Applied int
}

// Changed reports whether any edit was applied.
func (r Result) Changed() bool {
	return r.Applied > 0
}

type edit struct {
	start, end  int
	replacement string
}

type finding struct {
	issue internal.Issue
	fix   *edit
}

// apply filters findings by severity, accepts edits greedily in the order the
// findings were produced (earlier rules win overlaps) and rewrites text.
// A finding whose edit loses an overlap is dropped; the next pass sees it again.
func apply(text string, findings []finding, minSeverity internal.Severity) Result {
	var accepted []edit
	var issues []internal.Issue

	for _, f := range findings {
		if f.issue.Severity < minSeverity {
			continue
		}
		if f.fix == nil {
			issues = append(issues, f.issue)
			continue
		}
		if overlapsAny(*f.fix, accepted) {
			continue
		}
		accepted = append(accepted, *f.fix)
		issues = append(issues, f.issue)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Span.Start != issues[j].Span.Start {
			return issues[i].Span.Start < issues[j].Span.Start
		}
		return issues[i].Kind < issues[j].Kind
	})

	if len(accepted) == 0 {
		return Result{Text: text, Issues: issues}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].start != accepted[j].start {
			return accepted[i].start < accepted[j].start
		}
		return accepted[i].end < accepted[j].end
	})

	var sb strings.Builder
	last := 0
	for _, e := range accepted {
		sb.WriteString(text[last:e.start])
		sb.WriteString(e.replacement)
		last = e.end
	}
	sb.WriteString(text[last:])

	return Result{Text: sb.String(), Issues: issues, Applied: len(accepted)}
}

func overlapsAny(e edit, accepted []edit) bool {
	for _, a := range accepted {
		if e.start < a.end && a.start < e.end {
			return true
		}
		// two edits on the same empty or identical range
		if e.start == a.start && e.end == a.end {
			return true
		}
	}
	return false
}

// All runs every detector that applies to declaredType and returns the
// combined issues, each located in text.
func All(text, declaredType string, opts Options) []internal.Issue {
	issues := append([]internal.Issue{}, Grammar(text, opts).Issues...)
	issues = append(issues, Style(text, opts).Issues...)
	if declaredType == internal.TypeWeb {
		issues = append(issues, SEO(text, opts).Issues...)
	}
	return issues
}

// upperFirst returns the first rune of s uppercased and its byte size.
func upperFirst(s string) (string, int) {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)), size
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return s != ""
}

func lower(s string) string {
	return strings.ToLower(s)
}
