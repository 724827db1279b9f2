// Package links extracts navigational references and transclusion directives
// from memory-bank markdown documents.
//
// Two forms are recognized:
//
//	[[target]]  [[target#Section]]  [[link text -> target#Section]]   reference
//	![[target]] ![[target#Section|lines=20,recursive=false]]         transclusion
//
// Extraction is a pure function of the text: no I/O, no state.
package links

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a link.
type Kind string

const (
	KindReference    Kind = "reference"
	KindTransclusion Kind = "transclusion"
)

// Options holds per-occurrence transclusion options.
type Options struct {
	// Lines caps the number of included lines when set.
	Lines *int `json:"lines,omitempty"`
	// Recursive allows directives inside the included content to expand.
	Recursive bool `json:"recursive"`
	// Unknown keeps options the engine does not understand, for validation.
	Unknown map[string]string `json:"unknown,omitempty"`
	// Invalid lists option values that failed to parse.
	Invalid []string `json:"invalid,omitempty"`
}

// DefaultOptions returns the options applied when a directive has none.
func DefaultOptions() Options {
	return Options{Recursive: true}
}

// Signature returns a normalized, order-independent rendering of the
// options that affect resolved output. Used as a cache-key component.
func (o Options) Signature() string {
	parts := []string{"recursive=" + strconv.FormatBool(o.Recursive)}
	if o.Lines != nil {
		parts = append(parts, "lines="+strconv.Itoa(*o.Lines))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Link is one reference or transclusion found in a document.
type Link struct {
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	Section string  `json:"section,omitempty"`
	Kind    Kind    `json:"kind"`
	Line    int     `json:"line"`
	Text    string  `json:"text,omitempty"`
	Raw     string  `json:"raw"`
	Options Options `json:"options"`
}

// String renders the link as a short human-readable description.
func (l Link) String() string {
	target := l.Target
	if l.Section != "" {
		target += "#" + l.Section
	}
	return fmt.Sprintf("%s:%d %s -> %s", l.Source, l.Line, l.Kind, target)
}

// directiveRe matches both forms. Group 1 is the optional "!" marker,
// group 2 the bracket body.
var directiveRe = regexp.MustCompile(`(!?)\[\[([^\[\]\n]+)\]\]`)

// Extract scans text and returns every link it contains, in document
// order. Directives inside fenced code blocks are ignored.
func Extract(source, text string) []Link {
	var out []Link
	inFence := false

	for i, line := range strings.Split(text, "\n") {
		if IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range directiveRe.FindAllStringSubmatch(line, -1) {
			link, ok := parseDirective(m[2], m[1] == "!")
			if !ok {
				continue
			}
			link.Source = source
			link.Line = i + 1
			link.Raw = m[0]
			out = append(out, link)
		}
	}
	return out
}

// Transclusions returns only the transclusion directives in text.
func Transclusions(source, text string) []Link {
	var out []Link
	for _, l := range Extract(source, text) {
		if l.Kind == KindTransclusion {
			out = append(out, l)
		}
	}
	return out
}

// ReplaceTransclusions rewrites every transclusion directive outside fenced
// code through fn. fn receives the parsed link and returns the replacement
// text; a non-nil error aborts the rewrite.
func ReplaceTransclusions(source, text string, fn func(Link) (string, error)) (string, error) {
	lines := strings.Split(text, "\n")
	inFence := false

	for i, line := range lines {
		if IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence || !strings.Contains(line, "![[") {
			continue
		}

		var (
			b    strings.Builder
			last int
		)
		for _, loc := range directiveRe.FindAllStringSubmatchIndex(line, -1) {
			if loc[3] <= loc[2] { // no "!" marker: plain reference
				continue
			}
			link, ok := parseDirective(line[loc[4]:loc[5]], true)
			if !ok {
				continue
			}
			link.Source = source
			link.Line = i + 1
			link.Raw = line[loc[0]:loc[1]]

			repl, err := fn(link)
			if err != nil {
				return "", err
			}
			b.WriteString(line[last:loc[0]])
			b.WriteString(repl)
			last = loc[1]
		}
		if last > 0 {
			b.WriteString(line[last:])
			lines[i] = b.String()
		}
	}
	return strings.Join(lines, "\n"), nil
}

func parseDirective(body string, transclusion bool) (Link, bool) {
	link := Link{Kind: KindReference, Options: DefaultOptions()}
	if transclusion {
		link.Kind = KindTransclusion
	}

	if transclusion {
		if idx := strings.Index(body, "|"); idx >= 0 {
			link.Options = parseOptions(body[idx+1:])
			body = body[:idx]
		}
	} else if idx := strings.Index(body, "->"); idx >= 0 {
		link.Text = strings.TrimSpace(body[:idx])
		body = body[idx+2:]
	}

	body = strings.TrimSpace(body)
	if idx := strings.Index(body, "#"); idx >= 0 {
		link.Section = strings.TrimSpace(body[idx+1:])
		body = body[:idx]
	}

	link.Target = NormalizeTarget(body)
	if link.Target == "" {
		return Link{}, false
	}
	return link, true
}

func parseOptions(raw string) Options {
	opts := DefaultOptions()
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "lines":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				opts.Invalid = append(opts.Invalid, pair)
				continue
			}
			opts.Lines = &n
		case "recursive":
			b, err := strconv.ParseBool(value)
			if err != nil {
				opts.Invalid = append(opts.Invalid, pair)
				continue
			}
			opts.Recursive = b
		default:
			if opts.Unknown == nil {
				opts.Unknown = make(map[string]string)
			}
			opts.Unknown[key] = value
		}
	}
	return opts
}

// NormalizeTarget cleans a link target into a document identifier:
// slashes are normalized and ".md" is appended when no extension is given.
func NormalizeTarget(target string) string {
	target = strings.TrimSpace(strings.ReplaceAll(target, "\\", "/"))
	if target == "" {
		return ""
	}
	target = strings.TrimPrefix(path.Clean("/"+target), "/")
	if target == "" || target == "." {
		return ""
	}
	if path.Ext(target) == "" {
		target += ".md"
	}
	return target
}

// IsFence reports whether line opens or closes a fenced code block.
func IsFence(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}
