package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/membank/internal/corpus"
	"github.com/HendryAvila/membank/internal/graph"
	"github.com/HendryAvila/membank/internal/links"
	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/transclusion"
	"github.com/HendryAvila/membank/internal/usage"
)

// ─── Resolve ─────────────────────────────────────────────────────────────────

// Resolution is the fully expanded form of one document.
type Resolution struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Tokens   int      `json:"tokens"`
	Includes []string `json:"includes,omitempty"`
}

// ResolveTransclusions expands every transclusion in id and records the
// access. Includes lists the documents it pulls in, dependencies first.
func (e *Engine) ResolveTransclusions(ctx context.Context, id string) (*Resolution, error) {
	id = links.NormalizeTarget(id)
	text, err := e.resolver.ResolveDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &Resolution{ID: id, Content: text, Tokens: e.counter.Tokens(text)}
	if g, err := e.Graph(ctx); err == nil && g.Has(id) {
		if order, err := g.TransclusionOrder(id); err == nil {
			for _, dep := range order {
				if dep != id {
					res.Includes = append(res.Includes, dep)
				}
			}
		}
	}
	e.recordAccess(ctx, id)
	return res, nil
}

// ─── Read / List ─────────────────────────────────────────────────────────────

// ReadRequest selects a document, optionally one section of it.
type ReadRequest struct {
	ID      string
	Section string
	// Raw skips transclusion expansion.
	Raw bool
}

// DocumentView is a document as returned to clients.
type DocumentView struct {
	ID       string `json:"id"`
	Section  string `json:"section,omitempty"`
	Tier     int    `json:"tier"`
	Hash     string `json:"hash"`
	Tokens   int    `json:"tokens"`
	Resolved bool   `json:"resolved"`
	Content  string `json:"content"`
}

// ReadDocument returns one document or section. The section is cut before
// expansion so headings inside inlined content do not move its bounds.
func (e *Engine) ReadDocument(ctx context.Context, req ReadRequest) (*DocumentView, error) {
	id := links.NormalizeTarget(req.ID)
	doc, err := e.reader.ReadDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	text := doc.Text
	if req.Section != "" {
		if text, err = transclusion.ExtractSection(doc.ID, text, req.Section, 0); err != nil {
			return nil, err
		}
	}
	if !req.Raw {
		if text, err = e.resolver.ResolveContent(ctx, text, doc.ID); err != nil {
			return nil, err
		}
	}

	e.recordAccess(ctx, doc.ID)
	return &DocumentView{
		ID:       doc.ID,
		Section:  req.Section,
		Tier:     doc.Tier,
		Hash:     doc.Hash,
		Tokens:   e.counter.Tokens(text),
		Resolved: !req.Raw,
		Content:  text,
	}, nil
}

// DocumentInfo is one row of the document listing.
type DocumentInfo struct {
	ID           string   `json:"id"`
	Tier         int      `json:"tier"`
	Bytes        int      `json:"bytes"`
	Lines        int      `json:"lines"`
	Tokens       int      `json:"tokens"`
	Dependencies []string `json:"dependencies,omitempty"`
	Links        int      `json:"links"`
	Accesses     int      `json:"accesses,omitempty"`
}

// ListDocuments returns every document in loading order when the graph is
// acyclic, otherwise by tier and id.
func (e *Engine) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	g, err := e.Graph(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := g.LoadingOrder()
	if err != nil {
		ids = g.IDs()
		sort.SliceStable(ids, func(i, j int) bool { return g.Tier(ids[i]) < g.Tier(ids[j]) })
	}

	out := make([]DocumentInfo, 0, len(ids))
	for _, id := range ids {
		doc, err := e.reader.ReadDocument(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.log.Debug("skipping unreadable document", zap.String("id", id), zap.Error(err))
			continue
		}
		node, _ := g.Node(id)
		info := DocumentInfo{
			ID:           id,
			Tier:         doc.Tier,
			Bytes:        doc.Bytes,
			Lines:        doc.Lines,
			Tokens:       e.counter.Tokens(doc.Text),
			Dependencies: g.Dependencies(id, graph.OrderingKinds...),
			Links:        len(node.Links),
		}
		if e.usage != nil {
			if sig, ok, err := e.usage.AccessSignal(ctx, id); err == nil && ok {
				info.Accesses = sig.AccessCount
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// ─── Validate ────────────────────────────────────────────────────────────────

// LinkIssue is one problem found with a link.
type LinkIssue struct {
	Source  string `json:"source"`
	Line    int    `json:"line,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Problem string `json:"problem"`
}

// LinkReport is the outcome of ValidateLinks. Valid is false when any link
// is broken; warnings do not affect it.
type LinkReport struct {
	Valid     bool        `json:"valid"`
	Documents int         `json:"documents"`
	Links     int         `json:"links"`
	Broken    []LinkIssue `json:"broken"`
	Warnings  []LinkIssue `json:"warnings"`
}

// ValidateLinks checks the links of id, or of every document when id is
// empty. A link is broken when its target or section is missing, or when
// expanding its document fails on a cycle or the depth ceiling. Unknown
// or malformed directive options are warnings.
func (e *Engine) ValidateLinks(ctx context.Context, id string) (*LinkReport, error) {
	g, err := e.Graph(ctx)
	if err != nil {
		return nil, err
	}

	ids := g.IDs()
	if id != "" {
		id = links.NormalizeTarget(id)
		if !g.Has(id) {
			return nil, fmt.Errorf("%w: %s", corpus.ErrNotFound, id)
		}
		ids = []string{id}
	}

	var (
		mu     sync.Mutex
		report = &LinkReport{Documents: len(ids), Broken: []LinkIssue{}, Warnings: []LinkIssue{}}
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Concurrency)

	for _, docID := range ids {
		eg.Go(func() error {
			broken, warnings, n, err := e.validateDocument(egCtx, g, docID)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Links += n
			report.Broken = append(report.Broken, broken...)
			report.Warnings = append(report.Warnings, warnings...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if id == "" {
		cycles, truncated := g.FindCycles(graph.OrderingKinds...)
		for _, cycle := range cycles {
			report.Warnings = append(report.Warnings, LinkIssue{
				Source:  cycle[0],
				Problem: "dependency cycle: " + strings.Join(cycle, " -> "),
			})
		}
		if truncated {
			report.Warnings = append(report.Warnings, LinkIssue{
				Problem: fmt.Sprintf("cycle listing truncated at %d cycles", graph.MaxCycles),
			})
		}
	}

	sortIssues(report.Broken)
	sortIssues(report.Warnings)
	report.Valid = len(report.Broken) == 0
	return report, nil
}

func (e *Engine) validateDocument(ctx context.Context, g *graph.Graph, id string) (broken, warnings []LinkIssue, n int, err error) {
	node, _ := g.Node(id)
	hasTransclusion := false

	for _, l := range node.Links {
		n++
		issue := LinkIssue{Source: l.Source, Line: l.Line, Raw: l.Raw}
		if l.Kind == links.KindTransclusion {
			hasTransclusion = true
		}
		for _, bad := range l.Options.Invalid {
			w := issue
			w.Problem = "invalid option " + bad
			warnings = append(warnings, w)
		}
		for _, key := range sortedKeys(l.Options.Unknown) {
			w := issue
			w.Problem = "unknown option " + key
			warnings = append(warnings, w)
		}

		if !g.Has(l.Target) {
			issue.Problem = "target not found: " + l.Target
			broken = append(broken, issue)
			continue
		}
		if l.Section == "" {
			continue
		}
		target, err := e.reader.ReadDocument(ctx, l.Target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, 0, ctxErr
			}
			issue.Problem = "target unreadable: " + err.Error()
			broken = append(broken, issue)
			continue
		}
		if _, err := transclusion.ExtractSection(l.Target, target.Text, l.Section, 0); err != nil {
			issue.Problem = err.Error()
			broken = append(broken, issue)
		}
	}

	if !hasTransclusion {
		return broken, warnings, n, nil
	}

	// Target and section problems were reported above; expansion adds the
	// failures only visible through the live resolution chain.
	if _, err := e.resolver.ResolveDocument(ctx, id); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, 0, ctxErr
		}
		var (
			circ  *transclusion.CircularDependencyError
			depth *transclusion.MaxDepthExceededError
			dir   *transclusion.DirectiveError
		)
		if errors.As(err, &circ) || errors.As(err, &depth) {
			issue := LinkIssue{Source: id}
			if errors.As(err, &dir) {
				issue.Line, issue.Raw = dir.Line, dir.Raw
			}
			if circ != nil {
				issue.Problem = circ.Error()
			} else {
				issue.Problem = depth.Error()
			}
			broken = append(broken, issue)
		}
	}
	return broken, warnings, n, nil
}

func sortIssues(issues []LinkIssue) {
	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Problem < b.Problem
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ─── Optimize ────────────────────────────────────────────────────────────────

// OptimizeContext runs the optimizer and records the selected documents
// and the run in the usage store.
func (e *Engine) OptimizeContext(ctx context.Context, req optimizer.Request) (*optimizer.Result, error) {
	res, err := e.opt.Optimize(ctx, req)
	if err != nil {
		return nil, err
	}
	e.recordRun(ctx, res)
	return res, nil
}

// StreamContext is OptimizeContext with tier-by-tier delivery to fn.
func (e *Engine) StreamContext(ctx context.Context, req optimizer.Request, fn func(optimizer.Batch) error) (*optimizer.Result, error) {
	res, err := e.opt.Stream(ctx, req, fn)
	if res != nil {
		e.recordRun(ctx, res)
	}
	return res, err
}

func (e *Engine) recordRun(ctx context.Context, res *optimizer.Result) {
	if e.usage == nil {
		return
	}
	e.recordAccess(ctx, res.Selected()...)
	run := usage.Run{
		ID:          res.ID,
		Task:        res.Task,
		Strategy:    string(res.Strategy),
		Budget:      res.Budget,
		TotalTokens: res.TotalTokens,
		Utilization: res.Utilization,
		Selected:    len(res.Selections),
		Excluded:    len(res.Exclusions),
	}
	if err := e.usage.RecordRun(ctx, run); err != nil {
		e.log.Warn("recording optimization run", zap.String("id", res.ID), zap.Error(err))
	}
}
