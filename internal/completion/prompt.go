package completion

import (
	"fmt"
	"strings"
)

func languageName(code string) string {
	switch code {
	case "en":
		return "English"
	case "ca":
		return "Catalan"
	case "pt":
		return "Portuguese"
	case "fr":
		return "French"
	default:
		return "Spanish"
	}
}

// RewritePrompt asks for a plain-language rewrite of text. problems lists the
// detected issues; guidance carries retrieved style rules; extra is appended
// verbatim (placeholder instructions, previous-chunk context).
func RewritePrompt(text, language string, problems, guidance []string, extra string) string {
	lang := languageName(language)
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an editor specialised in plain %s (lenguaje claro).\n", lang)
	sb.WriteString("Rewrite the text below so that it is easier to read:\n")
	sb.WriteString("- one idea per sentence, at most 30 words per sentence\n")
	sb.WriteString("- prefer the active voice\n")
	sb.WriteString("- remove filler words and redundant expressions\n")
	sb.WriteString("- keep every fact, name, number and link\n")

	if len(problems) > 0 {
		sb.WriteString("\nDETECTED PROBLEMS:\n")
		for _, p := range problems {
			fmt.Fprintf(&sb, "  - %s\n", p)
		}
	}
	if len(guidance) > 0 {
		sb.WriteString("\nGUIDELINES:\n")
		for _, g := range guidance {
			fmt.Fprintf(&sb, "  - %s\n", g)
		}
	}
	if extra != "" {
		sb.WriteString("\n")
		sb.WriteString(extra)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nOutput ONLY the rewritten text in %s. Do not include any explanation.\n\nTEXT:\n%s", lang, text)
	return sb.String()
}

// TitlePrompt asks for a shorter version of a web page title.
func TitlePrompt(title, language string, maxRunes int) string {
	lang := languageName(language)
	return fmt.Sprintf(`Shorten this %s web page title to at most %d characters.
Keep its main keywords and meaning. Output ONLY the new title, without quotes or markdown.

TITLE:
%s`, lang, maxRunes, title)
}
