// Package engine composes the memory-bank components behind one facade.
//
// It owns the current dependency graph and the transclusion resolver, and
// serves the operations exposed to MCP clients and the CLI. The graph is
// rebuilt lazily: change notifications only mark it stale, and the next
// caller that needs it triggers a single rebuild.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HendryAvila/membank/internal/corpus"
	"github.com/HendryAvila/membank/internal/graph"
	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/tokens"
	"github.com/HendryAvila/membank/internal/transclusion"
	"github.com/HendryAvila/membank/internal/usage"
)

// Recorder receives usage events. Implemented by *usage.Store.
type Recorder interface {
	optimizer.SignalSource
	RecordAccess(ctx context.Context, ids ...string) error
	RecordRun(ctx context.Context, r usage.Run) error
	Forget(ctx context.Context, id string) error
}

var _ Recorder = (*usage.Store)(nil)

// Config holds engine settings.
type Config struct {
	Resolver  transclusion.Config
	Optimizer optimizer.Config
	// Concurrency bounds parallel work in ValidateLinks.
	Concurrency int
}

// Engine is the memory-bank facade. Safe for concurrent use.
type Engine struct {
	reader   corpus.Reader
	resolver *transclusion.Resolver
	opt      *optimizer.Optimizer
	counter  *tokens.Fallback
	usage    Recorder // nullable
	cfg      Config
	log      *zap.Logger

	mu    sync.RWMutex
	graph *graph.Graph
	gen   uint64 // bumped by every change notification
	built uint64 // gen the current graph was built at
	sf    singleflight.Group
}

var _ optimizer.Source = (*Engine)(nil)

// New creates an Engine over reader. counter and rec may be nil.
func New(reader corpus.Reader, counter *tokens.Fallback, rec Recorder, cfg Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if counter == nil {
		counter = tokens.WithFallback(tokens.Heuristic{}, log)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = optimizer.DefaultConcurrency
	}
	res, err := transclusion.New(reader, cfg.Resolver, log)
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}

	e := &Engine{
		reader:   reader,
		resolver: res,
		counter:  counter,
		usage:    rec,
		cfg:      cfg,
		log:      log,
	}
	var signals optimizer.SignalSource
	if rec != nil {
		signals = rec
	}
	e.opt = optimizer.New(e, counter, signals, cfg.Optimizer, log)
	return e, nil
}

// Resolver exposes the transclusion resolver, mainly for diagnostics.
func (e *Engine) Resolver() *transclusion.Resolver {
	return e.resolver
}

// Counter returns the token counter in use.
func (e *Engine) Counter() *tokens.Fallback {
	return e.counter
}

// ─── Graph lifecycle ─────────────────────────────────────────────────────────

// Graph returns the current dependency graph, rebuilding it first when it
// is missing or stale. Concurrent callers share one rebuild.
func (e *Engine) Graph(ctx context.Context) (*graph.Graph, error) {
	e.mu.RLock()
	g, fresh := e.graph, e.graph != nil && e.built == e.gen
	e.mu.RUnlock()
	if fresh {
		return g, nil
	}

	v, err, _ := e.sf.Do("graph", func() (any, error) {
		return e.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Graph), nil
}

// Rebuild rescans the corpus unconditionally and replaces the graph.
func (e *Engine) Rebuild(ctx context.Context) (*graph.Graph, error) {
	e.mu.Lock()
	e.gen++
	e.mu.Unlock()
	return e.Graph(ctx)
}

// rebuild scans the corpus and swaps in the new graph. Documents whose
// content hash changed, or that disappeared, are invalidated in the
// resolver cache.
func (e *Engine) rebuild(ctx context.Context) (*graph.Graph, error) {
	e.mu.RLock()
	gen, old := e.gen, e.graph
	e.mu.RUnlock()

	g, err := graph.Build(ctx, e.reader, e.log)
	if err != nil {
		return nil, fmt.Errorf("building dependency graph: %w", err)
	}

	if old != nil {
		for _, id := range old.IDs() {
			before, _ := old.Node(id)
			after, ok := g.Node(id)
			if !ok || after.Hash != before.Hash {
				e.resolver.Invalidate(id)
			}
		}
	}

	e.mu.Lock()
	e.graph = g
	e.built = gen
	e.mu.Unlock()
	return g, nil
}

// Invalidate drops cached expansions that include id and marks the graph
// stale.
func (e *Engine) Invalidate(id string) {
	e.resolver.Invalidate(id)
	e.mu.Lock()
	e.gen++
	e.mu.Unlock()
}

// HandleChange is a corpus.Subscriber: it reacts to a settled change of
// one document.
func (e *Engine) HandleChange(c corpus.Change) {
	e.log.Debug("memory document changed", zap.String("id", c.ID), zap.String("op", string(c.Op)))
	e.Invalidate(c.ID)
	if c.Op == corpus.OpRemove && e.usage != nil {
		if err := e.usage.Forget(context.Background(), c.ID); err != nil {
			e.log.Warn("forgetting usage history", zap.String("id", c.ID), zap.Error(err))
		}
	}
}

// Watch subscribes the engine to w's change notifications.
func (e *Engine) Watch(w *corpus.Watcher) {
	w.Subscribe(e.HandleChange)
}

// ─── Operations ──────────────────────────────────────────────────────────────

// DependencyGraph renders the current graph in format.
func (e *Engine) DependencyGraph(ctx context.Context, format graph.Format) (string, error) {
	g, err := e.Graph(ctx)
	if err != nil {
		return "", err
	}
	return g.Render(format)
}

// DescribeGraph returns the structured graph description.
func (e *Engine) DescribeGraph(ctx context.Context) (graph.Description, error) {
	g, err := e.Graph(ctx)
	if err != nil {
		return graph.Description{}, err
	}
	return g.Describe(), nil
}

// ResolveDocument returns the fully expanded text of id. It implements
// optimizer.Source and records no access.
func (e *Engine) ResolveDocument(ctx context.Context, id string) (string, error) {
	return e.resolver.ResolveDocument(ctx, id)
}

// recordAccess logs usage without failing the caller.
func (e *Engine) recordAccess(ctx context.Context, ids ...string) {
	if e.usage == nil || len(ids) == 0 {
		return
	}
	if err := e.usage.RecordAccess(ctx, ids...); err != nil {
		e.log.Warn("recording document access", zap.Strings("ids", ids), zap.Error(err))
	}
}
