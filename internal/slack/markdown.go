package slack

import "regexp"

var (
	mdBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic = regexp.MustCompile(`\*([^*\n]+?)\*`)
	mdLink   = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)
	boldMark = regexp.MustCompile("\x00")
)

// FixMarkdown converts model markdown to Slack mrkdwn:
// **bold** becomes *bold*, *italic* becomes _italic_ and [text](url) becomes <url|text>.
func FixMarkdown(md string) string {
	// bold is parked on a sentinel so the italic pass does not eat it
	out := mdBold.ReplaceAllString(md, "\x00$1\x00")
	out = mdItalic.ReplaceAllString(out, "_${1}_")
	out = boldMark.ReplaceAllString(out, "*")
	return mdLink.ReplaceAllString(out, "<$2|$1>")
}

// SplitMrkdwn cuts text into pieces of at most limit characters, preferring to
// break after a newline and then after a space. Concatenating the pieces gives
// back text.
func SplitMrkdwn(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := breakAt(runes[:limit])
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(out) == 0 {
		out = append(out, string(runes))
	}
	return out
}

// breakAt returns the length of the longest prefix of window ending in a
// newline, else in a space, else the whole window.
func breakAt(window []rune) int {
	for _, sep := range []rune{'\n', ' '} {
		for i := len(window) - 1; i > 0; i-- {
			if window[i] == sep {
				return i + 1
			}
		}
	}
	return len(window)
}
