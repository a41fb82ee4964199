// Package postprocess removes common LLM artifacts from rewritten text.
//
// It is applied to every completion-service response before a unit accepts
// the rewrite.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes LLM artifacts in three phases and returns the trimmed result:
//  1. Thinking / reasoning block removal
//  2. Preamble removal ("Here is the rewritten text:", "Texto corregido:")
//  3. Quote wrapping removal
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removePreambles(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// Each tag variant is listed explicitly because RE2 has no backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// An opened thinking tag whose closing tag is missing (output cut off).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// preamblePatterns are anchored at the start and require a colon so that
// legitimate openings ("Aquí está la oficina…") survive.
var preamblePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:(?:certainly|sure|of course)[,.!]?\s*)?here(?:'s| is)(?: the| your)? (?:rewritten |revised |improved |corrected |simplified |shortened )?(?:text|version|title|paragraph)\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:rewritten|revised|improved|corrected|simplified) (?:text|version|title)\s*:`),
	regexp.MustCompile(`(?i)^(?:aquí (?:está|tienes|tiene)|a continuación(?:,)? (?:está|se muestra))(?: el| la)? (?:texto|versión|título)(?: \p{L}+)?\s*:`),
	regexp.MustCompile(`(?i)^(?:texto|versión|título) (?:corregid[oa]|revisad[oa]|mejorad[oa]|simplificad[oa]|reescrit[oa])\s*:`),
}

func removePreambles(text string) string {
	for _, re := range preamblePatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			rest := strings.TrimSpace(text[loc[1]:])
			if rest == "" {
				continue
			}
			text = rest
		}
	}
	return text
}

// removeQuoteWrapping strips a matching pair of outer quotes when the whole
// text is wrapped in them. Supported pairs: "…" '…' «…» “…” ‘…’
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		inner := string(runes[1 : n-1])
		// "a" y "b" is two quotations, not a wrapped text
		if strings.ContainsRune(inner, first) || strings.ContainsRune(inner, last) {
			return text
		}
		return strings.TrimSpace(inner)
	}
	return text
}
