// Package textclean normalizes raw caption text before it is handed to
// the summarizer: markup and entities stripped, whitespace collapsed,
// repeated caption headers and navigation cruft removed.
package textclean

import (
	"regexp"
	"strings"
)

var (
	tagExpr      = regexp.MustCompile(`<[^>]+>`)
	bracketExpr  = regexp.MustCompile(`\[[^\]]*\]`)
	spaceRunExpr = regexp.MustCompile(` +`)
	blankRunExpr = regexp.MustCompile(`\n\n+`)
)

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// StripMarkup removes HTML tags, bracketed stage directions like [Music],
// and decodes the common entities captions carry.
func StripMarkup(text string) string {
	text = tagExpr.ReplaceAllString(text, "")
	text = bracketExpr.ReplaceAllString(text, "")
	return entities.Replace(text)
}

// NormalizeSpaces collapses space runs, tabs and blank-line runs.
func NormalizeSpaces(text string) string {
	text = strings.ReplaceAll(text, "\t", " ")
	text = spaceRunExpr.ReplaceAllString(text, " ")
	text = blankRunExpr.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// RemoveRepeatedLines drops a line when it repeats the previous one,
// ignoring surrounding whitespace. Auto-captions often duplicate headers.
func RemoveRepeatedLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	prev := ""
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || stripped == prev {
			continue
		}
		kept = append(kept, line)
		prev = stripped
	}
	return strings.Join(kept, "\n")
}

// RemoveShortLines drops lines shorter than minLen runes; short fragments
// are almost always UI cruft rather than speech.
func RemoveShortLines(text string, minLen int) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if len(strings.TrimSpace(line)) >= minLen {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Full applies the whole cleaning sequence.
func Full(text string) string {
	text = StripMarkup(text)
	text = NormalizeSpaces(text)
	text = RemoveRepeatedLines(text)
	text = RemoveShortLines(text, 10)
	return NormalizeSpaces(text)
}
