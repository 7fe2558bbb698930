// Package sanitize normalizes provider completions for chats that cannot
// render markdown or TeX. Every step is independent and idempotent.
package sanitize

import (
	"regexp"
	"strings"
)

// TruncationMarker is appended when a body is cut to the length budget.
// The budget includes the marker.
const TruncationMarker = "..."

// maxCitations caps the number of source links appended to an answer.
const maxCitations = 3

var (
	reCitationMark = regexp.MustCompile(`\[\d+\]`)

	// math notation, both bracket styles and both dollar styles,
	// removed together with the enclosed content
	reMathBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?s)\\\[.*?\\\]`),
		regexp.MustCompile(`(?s)\\\(.*?\\\)`),
		regexp.MustCompile(`(?s)\$\$.*?\$\$`),
		regexp.MustCompile(`\$[^$\n]*\$`),
	}

	// emphasis markers stripped, enclosed text preserved
	reBold   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	reUnder  = regexp.MustCompile(`__(.*?)__`)
	reStray  = regexp.MustCompile(`\*\*|__`)
	reBullet = regexp.MustCompile(`(?m)^[ \t]*(?:[-•]|\d+\.)[ \t]+`)

	reMultiSpace = regexp.MustCompile(`[ \t]+`)
	reMultiLines = regexp.MustCompile(`\n{2,}`)
)

// Sanitizer applies the fixed cleanup pipeline with a per-bot length budget.
type Sanitizer struct {
	// MaxChars is the hard output budget in runes; 0 disables truncation.
	MaxChars int
	// Compact collapses all whitespace into a single block for channels
	// that want ultra-short replies.
	Compact bool
}

// Clean runs the pipeline: citation markers, math notation, emphasis
// markers, list bullets, optional whitespace collapse, truncation.
func (s Sanitizer) Clean(text string) string {
	out := reCitationMark.ReplaceAllString(text, "")
	for _, re := range reMathBlocks {
		out = re.ReplaceAllString(out, "")
	}
	out = reBold.ReplaceAllString(out, "$1")
	out = reUnder.ReplaceAllString(out, "$1")
	out = reStray.ReplaceAllString(out, "")
	out = reBullet.ReplaceAllString(out, "")
	if s.Compact {
		out = reMultiSpace.ReplaceAllString(out, " ")
		out = strings.ReplaceAll(out, "\n", " ")
		out = reMultiSpace.ReplaceAllString(out, " ")
	} else {
		out = reMultiLines.ReplaceAllString(out, "\n\n")
	}
	out = strings.TrimSpace(out)
	return Truncate(out, s.MaxChars)
}

// Truncate cuts text to budget runes, marker included. A budget of 0 or
// less disables truncation.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	keep := budget - len(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + TruncationMarker
}

// AppendCitations adds up to three deduplicated source links after the body.
func AppendCitations(body string, links []string) string {
	seen := make(map[string]struct{}, len(links))
	kept := make([]string, 0, maxCitations)
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		kept = append(kept, l)
		if len(kept) == maxCitations {
			break
		}
	}
	if len(kept) == 0 {
		return body
	}
	return body + "\n\n" + strings.Join(kept, "\n")
}
