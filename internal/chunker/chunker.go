// Package chunker segments text into words, sentences and paragraphs with
// byte offsets, and splits long texts into completion-sized chunks while
// keeping sentence and paragraph integrity.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultContextWords is the default number of words extracted by
	// ExtractContext and Lead.
	DefaultContextWords = 25
)

// Segment is a piece of text with its byte range in the source string.
type Segment struct {
	Start int
	End   int
	Text  string
}

// Words returns the word tokens of text. A word is a run of letters and
// digits; an apostrophe or hyphen joins two such runs ("e-mail", "don't").
func Words(text string) []Segment {
	var words []Segment
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && (r == '\'' || r == '-' || r == '’') {
			next, _ := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):])
			if isWordRune(next) {
				continue
			}
		}
		if start >= 0 {
			words = append(words, Segment{Start: start, End: i, Text: text[start:i]})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, Segment{Start: start, End: len(text), Text: text[start:]})
	}
	return words
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Sentences splits text at terminal punctuation (. ! ? …) followed by
// whitespace or the end of text, at blank lines, and around markdown block
// lines (headings, list items, quotes). Closing quotes and brackets stay with
// their sentence. Segments are trimmed.
func Sentences(text string) []Segment {
	var out []Segment
	start := 0
	lineStart := 0
	emit := func(end int) {
		seg := trimSegment(text, start, end)
		if seg.Text != "" {
			out = append(out, seg)
		}
		start = end
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '\n':
			rest := text[i+size:]
			if strings.HasPrefix(rest, "\n") || IsBlockLine(rest) || IsBlockLine(text[lineStart:i]) {
				emit(i)
			}
			lineStart = i + size
		case r == '.' && isListNumber(text[lineStart:i]):
			// "1. " opens a list item, it does not end a sentence
		case r == '.' || r == '!' || r == '?' || r == '…':
			end := i + size
			for end < len(text) {
				c, n := utf8.DecodeRuneInString(text[end:])
				if !isTerminalTail(c) {
					break
				}
				end += n
			}
			if end == len(text) {
				emit(end)
				i = end
				continue
			}
			next, _ := utf8.DecodeRuneInString(text[end:])
			if unicode.IsSpace(next) {
				emit(end)
				i = end
				continue
			}
		}
		i += size
	}
	if start < len(text) {
		emit(len(text))
	}
	return out
}

// IsBlockLine reports whether line opens a markdown block that stands on its
// own: a heading, a list item or a quote.
func IsBlockLine(line string) bool {
	line = strings.TrimLeft(line, " \t")
	if line == "" {
		return false
	}
	switch line[0] {
	case '#':
		return true
	case '-', '*', '+', '>':
		return len(line) > 1 && (line[1] == ' ' || line[1] == '\t')
	}
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	return digits > 0 && digits+1 < len(line) &&
		(line[digits] == '.' || line[digits] == ')') && line[digits+1] == ' '
}

func isListNumber(prefix string) bool {
	prefix = strings.TrimLeft(prefix, " \t")
	if prefix == "" {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return false
		}
	}
	return true
}

func isTerminalTail(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

// Paragraphs splits text at blank lines.
func Paragraphs(text string) []Segment {
	var out []Segment
	start := 0
	for {
		idx := strings.Index(text[start:], "\n\n")
		if idx < 0 {
			break
		}
		if seg := trimSegment(text, start, start+idx); seg.Text != "" {
			out = append(out, seg)
		}
		start += idx + 2
	}
	if seg := trimSegment(text, start, len(text)); seg.Text != "" {
		out = append(out, seg)
	}
	return out
}

func trimSegment(text string, start, end int) Segment {
	s := text[start:end]
	lead := len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
	s = strings.TrimSpace(s)
	return Segment{Start: start + lead, End: start + lead + len(s), Text: s}
}

// Chunk splits text into pieces each no longer than maxChars unicode
// code points. Splits are attempted (in order of preference) at:
//  1. Paragraph boundaries (\n\n or \r\n\r\n)
//  2. Sentence-ending punctuation (. ! ?)
//  3. Whitespace (word boundary)
//  4. Hard cut at maxChars if no suitable boundary is found
//
// If maxChars ≤ 0 it is treated as unlimited.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for utf8.RuneCountInString(remaining) > maxChars {
		split := findSplit(remaining, maxChars)
		if chunk := strings.TrimSpace(remaining[:split]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[split:])
	}

	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// findSplit returns the byte index at which to split text so the first part
// holds at most maxChars runes.
func findSplit(text string, maxChars int) int {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return len(text)
	}
	candidate := string(runes[:maxChars])

	if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := strings.LastIndex(candidate, "\r\n\r\n"); idx > 0 {
		return idx + 4
	}

	if sentences := Sentences(candidate); len(sentences) > 1 {
		last := sentences[len(sentences)-2]
		return last.End
	}

	if idx := strings.LastIndexFunc(candidate, unicode.IsSpace); idx > 0 {
		return idx
	}
	return len(candidate)
}

// ExtractContext returns the last wordCount words of text joined by single
// spaces, for carrying continuity between chunks sent to a completion
// service. wordCount ≤ 0 selects DefaultContextWords.
func ExtractContext(text string, wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultContextWords
	}
	words := strings.Fields(text)
	if len(words) <= wordCount {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[len(words)-wordCount:], " ")
}

// Lead returns the first wordCount words of text joined by single spaces.
func Lead(text string, wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultContextWords
	}
	words := strings.Fields(text)
	if len(words) > wordCount {
		words = words[:wordCount]
	}
	return strings.Join(words, " ")
}
