// Package placeholder shields content that must survive a completion-service
// rewrite untouched (code, HTML tags, link targets, bare URLs) by replacing it
// with numbered markers ([PH0], [PH1], …) the model is told to keep.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reFencedCode = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`[^`\n]+`")
	reHTMLTag    = regexp.MustCompile(`<[^>\n]+>`)

	// markdown link target: the "(...)" part of [text](target)
	reLinkTarget = regexp.MustCompile(`\]\([^)\s]+\)`)

	reURL = regexp.MustCompile(`(?:https?://|www\.)[^\s<>()\[\]]+[^\s<>()\[\].,;:!?]`)

	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protected is text with its shielded originals.
type Protected struct {
	Text    string
	Markers []string
}

// Protect replaces fenced code, inline code, HTML tags, link targets and URLs
// with placeholders in that order. The longest constructs go first so a URL
// inside a code block is captured with the block.
func Protect(text string) Protected {
	p := Protected{}
	replace := func(match string) string {
		id := fmt.Sprintf("[PH%d]", len(p.Markers))
		p.Markers = append(p.Markers, match)
		return id
	}

	for _, re := range []*regexp.Regexp{reFencedCode, reInlineCode, reHTMLTag, reLinkTarget, reURL} {
		text = re.ReplaceAllStringFunc(text, replace)
	}
	p.Text = text
	return p
}

// Restore substitutes markers in text with the originals. Unknown indices
// are left as they are.
func (p Protected) Restore(text string) string {
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(p.Markers) {
			return match
		}
		return p.Markers[idx]
	})
}

// Missing returns the indices of markers absent from text.
func (p Protected) Missing(text string) []int {
	var missing []int
	for i := range p.Markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// InstructionHint is appended to prompts when markers are present.
func InstructionHint() string {
	return "Keep every [PHn] marker exactly as it appears. Do not translate, move or remove them."
}
