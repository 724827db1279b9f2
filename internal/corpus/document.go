// Package corpus is the storage collaborator of the memory-bank engine.
//
// It reads memory files from a directory, hashes their content, parses
// optional YAML front matter, and assigns each document its priority tier
// and static dependencies. The engine only consumes the narrow read
// contract defined by Reader; writes happen outside this process.
package corpus

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a document does not exist in the corpus.
var ErrNotFound = errors.New("document not found")

// Document is one memory file as seen by the engine.
type Document struct {
	ID         string    `json:"id"`
	Text       string    `json:"-"`
	Hash       string    `json:"hash"`
	Tier       int       `json:"tier"`
	StaticDeps []string  `json:"static_deps,omitempty"`
	Bytes      int       `json:"bytes"`
	Lines      int       `json:"lines"`
	ModTime    time.Time `json:"mod_time"`
}

// frontMatter is the optional YAML header of a memory file.
type frontMatter struct {
	Priority  *int     `yaml:"priority"`
	DependsOn []string `yaml:"depends_on"`
}

// NewDocument builds a Document from raw file content. Front matter, when
// present, is stripped from Text and applied on top of the foundation table.
// A header that is not valid YAML is kept as part of the body.
func NewDocument(id string, raw []byte, modTime time.Time) Document {
	sum := sha256.Sum256(raw)
	doc := Document{
		ID:      id,
		Hash:    hex.EncodeToString(sum[:]),
		Bytes:   len(raw),
		ModTime: modTime,
	}

	body, fm := splitFrontMatter(raw)

	doc.Tier, doc.StaticDeps = Foundation(id)
	if fm.Priority != nil && *fm.Priority >= 0 {
		doc.Tier = *fm.Priority
	}
	for _, dep := range fm.DependsOn {
		dep = normalizeID(dep)
		if dep != "" && !contains(doc.StaticDeps, dep) {
			doc.StaticDeps = append(doc.StaticDeps, dep)
		}
	}

	doc.Text = string(body)
	doc.Lines = strings.Count(doc.Text, "\n")
	if doc.Text != "" && !strings.HasSuffix(doc.Text, "\n") {
		doc.Lines++
	}
	return doc
}

var fmDelim = []byte("---")

// splitFrontMatter separates a leading "---" YAML block from the body.
// A document without a closing delimiter is treated as having none.
func splitFrontMatter(raw []byte) ([]byte, frontMatter) {
	var fm frontMatter
	trimmed := bytes.TrimPrefix(raw, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, fmDelim) {
		return raw, fm
	}

	rest := trimmed[len(fmDelim):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) != 0 {
		return raw, fm
	}
	rest = rest[nl+1:]

	end := bytes.Index(rest, []byte("\n---"))
	var header []byte
	switch {
	case bytes.HasPrefix(rest, fmDelim):
		header, rest = nil, rest[len(fmDelim):]
	case end >= 0:
		header, rest = rest[:end], rest[end+len("\n---"):]
	default:
		return raw, fm
	}

	if err := yaml.Unmarshal(header, &fm); err != nil {
		return raw, frontMatter{}
	}

	if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = nil
	}
	return rest, fm
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
