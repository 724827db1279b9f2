package optimizer

import (
	"strings"
	"unicode/utf8"

	"github.com/HendryAvila/membank/internal/links"
	"github.com/HendryAvila/membank/internal/transclusion"
)

// DefaultSummaryLines is how many body lines level 1 keeps per heading.
const DefaultSummaryLines = 3

// maxSentence bounds a compressed paragraph, in runes.
const maxSentence = 200

// Summarize shrinks text at the given level. Headings survive every level.
// SummaryNone returns text unchanged.
func Summarize(text string, level SummaryLevel, keepLines int) string {
	if keepLines <= 0 {
		keepLines = DefaultSummaryLines
	}
	switch level {
	case SummaryKeySections:
		return keySections(text, keepLines)
	case SummaryCompressed:
		return compressProse(text)
	case SummaryHeadings:
		return headingsOnly(text)
	default:
		return text
	}
}

// keySections keeps each heading and the first n non-blank lines after
// it. Fenced blocks are dropped entirely so no fence is left open.
func keySections(text string, n int) string {
	var out []string
	kept := 0
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if links.IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if _, _, ok := transclusion.ParseHeading(line); ok {
			out = append(out, line)
			kept = 0
			continue
		}
		if strings.TrimSpace(line) == "" || kept >= n {
			continue
		}
		out = append(out, line)
		kept++
	}
	return strings.Join(out, "\n")
}

// compressProse keeps headings and fenced code verbatim and reduces each
// prose paragraph or list item to its first sentence.
func compressProse(text string) string {
	var (
		out       []string
		paragraph []string
		inFence   bool
	)
	flush := func() {
		if len(paragraph) == 0 {
			return
		}
		out = append(out, firstSentence(strings.Join(paragraph, " ")))
		paragraph = paragraph[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if links.IsFence(line) {
			flush()
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case isHeading(line):
			flush()
			out = append(out, line)
		case isListItem(trimmed):
			flush()
			out = append(out, firstSentence(line))
		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	flush()
	return strings.Join(out, "\n")
}

// headingsOnly keeps heading lines outside fenced code.
func headingsOnly(text string) string {
	var out []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if links.IsFence(line) {
			inFence = !inFence
			continue
		}
		if !inFence && isHeading(line) {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func isHeading(line string) bool {
	_, _, ok := transclusion.ParseHeading(line)
	return ok
}

func isListItem(trimmed string) bool {
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ ") {
		return true
	}
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(trimmed) && trimmed[i] == '.' && trimmed[i+1] == ' '
}

// firstSentence cuts s after its first sentence terminator, or at
// maxSentence runes.
func firstSentence(s string) string {
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') && s[i+1] == ' ' {
			s = s[:i+1]
			break
		}
	}
	if utf8.RuneCountInString(s) > maxSentence {
		r := []rune(s)
		s = string(r[:maxSentence]) + "…"
	}
	return s
}

// ─── Sections ───────────────────────────────────────────────────────────────

// Section is one budgetable part of a document.
type Section struct {
	// Heading is empty for text before the first split heading.
	Heading string
	Text    string
	Index   int
}

// SplitSections cuts text at its primary headings. A lone top-level
// title stays with the preamble and the document is split one level
// down. Text without headings is one section.
func SplitSections(text string) []Section {
	lines := strings.Split(text, "\n")
	heads := transclusion.Headings(text)
	if len(heads) == 0 {
		return []Section{{Text: text}}
	}

	level := splitLevel(heads)
	var cuts []transclusion.Heading
	for _, h := range heads {
		if h.Level == level {
			cuts = append(cuts, h)
		}
	}

	var out []Section
	if pre := strings.Join(lines[:cuts[0].Line], "\n"); strings.TrimSpace(pre) != "" {
		out = append(out, Section{Text: pre})
	}
	for i, h := range cuts {
		end := len(lines)
		if i+1 < len(cuts) {
			end = cuts[i+1].Line
		}
		out = append(out, Section{Heading: h.Text, Text: strings.Join(lines[h.Line:end], "\n")})
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

func splitLevel(heads []transclusion.Heading) int {
	top := heads[0].Level
	for _, h := range heads {
		if h.Level < top {
			top = h.Level
		}
	}
	count := 0
	for _, h := range heads {
		if h.Level == top {
			count++
		}
	}
	if count > 1 || heads[0].Level != top {
		return top
	}
	next := 0
	for _, h := range heads[1:] {
		if next == 0 || h.Level < next {
			next = h.Level
		}
	}
	if next == 0 {
		return top
	}
	return next
}
