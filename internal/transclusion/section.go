package transclusion

import (
	"strings"

	"github.com/HendryAvila/membank/internal/links"
)

// Heading is one markdown ATX heading found in a document.
type Heading struct {
	Level int
	Text  string
	Line  int // 0-based line index
}

// ParseHeading returns the level and text of an ATX heading line
// ("## Goals"), or ok=false for any other line.
func ParseHeading(line string) (level int, text string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	text = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	return level, text, true
}

// Headings lists the headings of text, skipping fenced code blocks.
func Headings(text string) []Heading {
	var out []Heading
	inFence := false
	for i, line := range strings.Split(text, "\n") {
		if links.IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if level, h, ok := ParseHeading(line); ok {
			out = append(out, Heading{Level: level, Text: h, Line: i})
		}
	}
	return out
}

// ExtractSection returns the body of the first section whose heading text
// equals heading exactly (case-sensitive, markers and surrounding spaces
// stripped). The body runs from the line after the heading to the next
// heading of equal or shallower depth, or the end of the document. When
// lineCap is positive the body is cut to that many lines. target names the
// document in the error.
func ExtractSection(target, text, heading string, lineCap int) (string, error) {
	lines := strings.Split(text, "\n")
	headings := Headings(text)

	for i, h := range headings {
		if h.Text != heading {
			continue
		}
		end := len(lines)
		for _, next := range headings[i+1:] {
			if next.Level <= h.Level {
				end = next.Line
				break
			}
		}
		body := lines[h.Line+1 : end]
		body = trimBlankEdges(body)
		if lineCap > 0 && len(body) > lineCap {
			body = body[:lineCap]
		}
		return strings.Join(body, "\n"), nil
	}
	return "", &SectionNotFoundError{Target: target, Heading: heading}
}

// FirstLines returns at most n lines of text; n <= 0 returns text unchanged.
func FirstLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "\n")
}

// trimBlankEdges drops leading and trailing blank lines.
func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
