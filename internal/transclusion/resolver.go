// Package transclusion inlines the content referenced by inclusion
// directives (![[target#Section|options]]) into the including document.
//
// Resolution is recursive and tracks its own call chain: the list of
// documents being expanded is passed down as a value, so concurrent
// resolutions never share it. Cycles and runaway nesting are reported as
// errors, never truncated. Expanded fragments are memoized in a Cache that
// callers invalidate when a document changes.
package transclusion

import (
	"context"
	"errors"
	"sort"

	"github.com/HendryAvila/membank/internal/corpus"
	"github.com/HendryAvila/membank/internal/links"
	"go.uber.org/zap"
)

// DefaultMaxDepth is the nesting ceiling when none is configured.
const DefaultMaxDepth = 5

// DocumentReader is the read contract the resolver needs from storage.
type DocumentReader interface {
	ReadDocument(ctx context.Context, id string) (corpus.Document, error)
}

// Config holds resolver settings.
type Config struct {
	MaxDepth  int
	CacheSize int
}

// Resolver expands transclusion directives.
type Resolver struct {
	reader   DocumentReader
	cache    *Cache
	maxDepth int
	log      *zap.Logger
}

// New creates a Resolver reading documents through reader.
func New(reader DocumentReader, cfg Config, log *zap.Logger) (*Resolver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	cache, err := NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{reader: reader, cache: cache, maxDepth: cfg.MaxDepth, log: log}, nil
}

// MaxDepth returns the configured nesting ceiling.
func (r *Resolver) MaxDepth() int {
	return r.maxDepth
}

// ResolveContent replaces every inclusion directive in text, written in
// document sourceID, with the content it names.
func (r *Resolver) ResolveContent(ctx context.Context, text, sourceID string) (string, error) {
	res, err := r.resolve(ctx, text, sourceID, 0, []string{sourceID})
	if err != nil {
		return "", err
	}
	return res.text, nil
}

// ResolveDocument reads id and returns its fully expanded text.
func (r *Resolver) ResolveDocument(ctx context.Context, id string) (string, error) {
	doc, err := r.read(ctx, id)
	if err != nil {
		return "", err
	}
	return r.ResolveContent(ctx, doc.Text, doc.ID)
}

// Invalidate drops cached expansions that include id.
func (r *Resolver) Invalidate(id string) {
	if n := r.cache.Invalidate(id); n > 0 {
		r.log.Debug("transclusion cache invalidated", zap.String("id", id), zap.Int("entries", n))
	}
}

// Clear drops every cached expansion.
func (r *Resolver) Clear() {
	r.cache.Clear()
}

// CacheStats reports cache effectiveness.
func (r *Resolver) CacheStats() CacheStats {
	return r.cache.Stats()
}

// resolved is the outcome of expanding one piece of text.
type resolved struct {
	text     string
	height   int
	includes map[string]bool
}

func (r *Resolver) resolve(ctx context.Context, text, source string, depth int, stack []string) (resolved, error) {
	if depth > r.maxDepth {
		return resolved{}, &MaxDepthExceededError{Source: source, Depth: depth, Max: r.maxDepth, Path: stack}
	}

	out := resolved{includes: make(map[string]bool)}
	expanded, err := links.ReplaceTransclusions(source, text, func(l links.Link) (string, error) {
		sub, err := r.expand(ctx, l, depth, stack)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &DirectiveError{Source: source, Line: l.Line, Raw: l.Raw, Err: err}
		}
		if sub.height > out.height {
			out.height = sub.height
		}
		for id := range sub.includes {
			out.includes[id] = true
		}
		return sub.text, nil
	})
	if err != nil {
		return resolved{}, err
	}
	out.text = expanded
	return out, nil
}

// expand resolves a single directive found at depth.
func (r *Resolver) expand(ctx context.Context, l links.Link, depth int, stack []string) (resolved, error) {
	for _, id := range stack {
		if id == l.Target {
			return resolved{}, &CircularDependencyError{Path: push(stack, l.Target)}
		}
	}
	if depth+1 > r.maxDepth {
		return resolved{}, &MaxDepthExceededError{
			Source: l.Target, Depth: depth + 1, Max: r.maxDepth, Path: push(stack, l.Target),
		}
	}

	key := Key{Target: l.Target, Section: l.Section, Options: l.Options.Signature()}
	if e, ok := r.cache.Get(key); ok && r.usable(e, depth, stack) {
		return resolved{text: e.Text, height: e.Height, includes: toSet(e.Includes)}, nil
	}

	doc, err := r.read(ctx, l.Target)
	if err != nil {
		return resolved{}, err
	}

	content := doc.Text
	lineCap := 0
	if l.Options.Lines != nil {
		lineCap = *l.Options.Lines
	}
	if l.Section != "" {
		content, err = ExtractSection(l.Target, content, l.Section, lineCap)
		if err != nil {
			return resolved{}, err
		}
	} else {
		content = FirstLines(content, lineCap)
	}

	out := resolved{text: content, height: 1, includes: map[string]bool{l.Target: true}}
	if l.Options.Recursive {
		sub, err := r.resolve(ctx, content, l.Target, depth+1, push(stack, l.Target))
		if err != nil {
			return resolved{}, err
		}
		out.text = sub.text
		out.height = sub.height + 1
		for id := range sub.includes {
			out.includes[id] = true
		}
	}

	r.cache.Put(key, Entry{Text: out.text, Height: out.height, Includes: fromSet(out.includes)})
	return out, nil
}

// usable reports whether a cached expansion is valid at this point of the
// chain: it must fit under the depth ceiling and must not inline any
// document already being expanded. Otherwise the directive is resolved
// afresh so the caller gets the precise error.
func (r *Resolver) usable(e Entry, depth int, stack []string) bool {
	if depth+e.Height > r.maxDepth {
		return false
	}
	for _, id := range e.Includes {
		for _, s := range stack {
			if id == s {
				return false
			}
		}
	}
	return true
}

// read converts every collaborator failure into TargetNotFoundError,
// except cancellation.
func (r *Resolver) read(ctx context.Context, id string) (corpus.Document, error) {
	doc, err := r.reader.ReadDocument(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return corpus.Document{}, err
		}
		if !errors.Is(err, corpus.ErrNotFound) {
			r.log.Warn("reading transclusion target", zap.String("id", id), zap.Error(err))
		}
		return corpus.Document{}, &TargetNotFoundError{Target: id, Err: err}
	}
	return doc, nil
}

// push returns a copy of stack with id appended; the caller's slice is
// never modified.
func push(stack []string, id string) []string {
	out := make([]string, len(stack)+1)
	copy(out, stack)
	out[len(stack)] = id
	return out
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func fromSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
