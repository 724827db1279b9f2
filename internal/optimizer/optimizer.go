// Package optimizer selects which memory documents, or parts of them, fit
// a token budget for a given task.
//
// Every candidate is measured over its transclusion-resolved text. A
// document that cannot be resolved is excluded with a reason instead of
// failing the call. Mandatory documents are never dropped; when they alone
// exceed the budget the result says so through Utilization > 1,
// OverBudget and a warning.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/membank/internal/graph"
	"github.com/HendryAvila/membank/internal/links"
	"github.com/HendryAvila/membank/internal/tokens"
)

// Source is the corpus view the optimizer works from.
type Source interface {
	Graph(ctx context.Context) (*graph.Graph, error)
	ResolveDocument(ctx context.Context, id string) (string, error)
}

const (
	// DefaultThreshold is the relevance cut used by dependency_aware,
	// section_level and hybrid.
	DefaultThreshold = 0.3
	// DefaultConcurrency bounds parallel resolution.
	DefaultConcurrency = 8
)

// Config holds optimizer settings. Zero values select the defaults.
type Config struct {
	// Strategy applies to requests that name none.
	Strategy     Strategy
	Threshold    float64
	SummaryLines int
	Concurrency  int
	HalfLife     time.Duration
}

// Optimizer runs optimization calls. It holds no per-call state and is
// safe for concurrent use.
type Optimizer struct {
	src     Source
	counter *tokens.Fallback
	signals SignalSource
	cfg     Config
	log     *zap.Logger
}

// New creates an Optimizer. counter and signals may be nil: counting then
// uses the word estimate and relevance gets no access boost.
func New(src Source, counter *tokens.Fallback, signals SignalSource, cfg Config, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	if counter == nil {
		counter = tokens.WithFallback(tokens.Heuristic{}, log)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SummaryLines <= 0 {
		cfg.SummaryLines = DefaultSummaryLines
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultHalfLife
	}
	return &Optimizer{src: src, counter: counter, signals: signals, cfg: cfg, log: log}
}

// Optimize selects content for req.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	if req.Budget <= 0 {
		return nil, ErrInvalidBudget
	}
	if req.Strategy == "" {
		req.Strategy = o.cfg.Strategy
	}
	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return nil, err
	}
	req.Strategy = strategy

	g, err := o.src.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading dependency graph: %w", err)
	}

	p := o.newPlan(g, req)
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	p.markMandatory()

	switch strategy {
	case StrategyPriority:
		p.priority(p.undecided())
	case StrategyDependencyAware:
		p.dependencyAware(p.roots(), false)
	case StrategySectionLevel:
		p.dependencyAware(p.roots(), true)
	case StrategyHybrid:
		p.hybrid()
	}

	res := p.finish()
	o.log.Debug("context optimized",
		zap.String("id", res.ID),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("selected", len(res.Selections)),
		zap.Int("excluded", len(res.Exclusions)),
		zap.Int("tokens", res.TotalTokens),
		zap.Int("budget", res.Budget),
	)
	return res, nil
}

// ─── Per-call plan ──────────────────────────────────────────────────────────

// candidate is one document under consideration.
type candidate struct {
	id        string
	tier      int
	text      string
	tokens    int
	score     float64
	err       error
	mandatory bool
	required  bool
}

func (c *candidate) forced() bool {
	return c.mandatory || c.required
}

// plan is the mutable state of a single Optimize call.
type plan struct {
	o         *Optimizer
	g         *graph.Graph
	req       Request
	threshold float64

	ids       []string
	cands     map[string]*candidate
	scorer    *Scorer
	mandatory []string

	remaining int
	used      int
	decided   map[string]bool
	excluded  map[string]bool

	selections []Selection
	exclusions []Exclusion
	warnings   []string

	// estimated is set when any count in this call came from the fallback.
	estimated atomic.Bool
}

func (o *Optimizer) newPlan(g *graph.Graph, req Request) *plan {
	threshold := o.cfg.Threshold
	if req.Threshold > 0 {
		threshold = req.Threshold
	}
	return &plan{
		o:         o,
		g:         g,
		req:       req,
		threshold: threshold,
		cands:     make(map[string]*candidate),
		remaining: req.Budget,
		decided:   make(map[string]bool),
		excluded:  make(map[string]bool),
	}
}

// prepare resolves and measures every document in parallel, then scores
// the ones that resolved. Only cancellation aborts it.
func (p *plan) prepare(ctx context.Context) error {
	p.ids = p.g.IDs()
	list := make([]*candidate, len(p.ids))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.o.cfg.Concurrency)
	for i, id := range p.ids {
		c := &candidate{id: id, tier: p.g.Tier(id)}
		list[i] = c
		eg.Go(func() error {
			text, err := p.o.src.ResolveDocument(egCtx, id)
			if err != nil {
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.err = err
				return nil
			}
			c.text = text
			c.tokens = p.count(text)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	texts := make(map[string]string, len(list))
	for _, c := range list {
		p.cands[c.id] = c
		if c.err == nil {
			texts[c.id] = c.text
		}
	}
	p.scorer = NewScorer(p.req.Task, texts)

	for _, c := range list {
		if c.err != nil {
			p.exclude(c, ReasonResolutionFailed, c.err.Error())
			p.o.log.Debug("excluding unresolvable document", zap.String("id", c.id), zap.Error(c.err))
			continue
		}
		c.score = clamp(p.scorer.Score(c.id, c.text) * p.boost(ctx, c.id))
	}
	return nil
}

func (p *plan) boost(ctx context.Context, id string) float64 {
	if p.o.signals == nil {
		return 1
	}
	sig, ok, err := p.o.signals.AccessSignal(ctx, id)
	if err != nil {
		p.o.log.Debug("access signal unavailable", zap.String("id", id), zap.Error(err))
		return 1
	}
	if !ok {
		return 1
	}
	return Boost(sig, p.o.cfg.HalfLife)
}

// markMandatory flags mandatory documents and, for the dependency-aware
// strategies, their ordering prerequisites. Their tokens are reserved up
// front so later choices cannot crowd them out.
func (p *plan) markMandatory() {
	seen := make(map[string]bool)
	for _, raw := range p.req.Mandatory {
		id := links.NormalizeTarget(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		c, ok := p.cands[id]
		if !ok {
			p.warn("mandatory document %s is not in the memory bank", id)
			continue
		}
		if c.err != nil {
			p.warn("mandatory document %s could not be resolved: %v", id, c.err)
			continue
		}
		c.mandatory = true
		p.mandatory = append(p.mandatory, id)
	}

	if p.req.Strategy != StrategyPriority {
		for _, id := range p.mandatory {
			closure, err := p.g.MinimalContext(id, graph.OrderingKinds...)
			if err != nil {
				continue
			}
			for _, dep := range closure {
				if c := p.cands[dep]; c != nil && c.err == nil && !c.mandatory {
					c.required = true
				}
			}
		}
	}

	reserved := 0
	for _, id := range p.ids {
		if c := p.cands[id]; c.forced() {
			reserved += c.tokens
		}
	}
	p.remaining -= reserved
	if reserved > p.req.Budget {
		p.warn("mandatory documents need %d tokens, exceeding the budget of %d", reserved, p.req.Budget)
	}
}

// roots returns the starting points of the dependency-aware walk:
// mandatory documents plus those at or above the relevance threshold.
// With none, every document is a root.
func (p *plan) roots() []string {
	var roots []string
	for _, id := range p.ids {
		c := p.cands[id]
		if c.err == nil && (c.mandatory || p.relevant(c)) {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return p.undecided()
	}
	return roots
}

// relevant reports whether c clears the threshold. The comparison is
// inclusive, so a document exactly at the threshold is treated as
// relevant.
func (p *plan) relevant(c *candidate) bool {
	return !p.scorer.Empty() && c.score >= p.threshold
}

// undecided returns candidates that are neither selected nor excluded.
func (p *plan) undecided() []string {
	var out []string
	for _, id := range p.ids {
		if !p.decided[id] {
			out = append(out, id)
		}
	}
	return out
}

// ─── Strategies ─────────────────────────────────────────────────────────────

// priority includes documents in ascending tier order, most relevant
// first within a tier.
func (p *plan) priority(ids []string) {
	for _, id := range p.byPriority(ids) {
		c := p.cands[id]
		if p.decided[id] {
			continue
		}
		if c.forced() {
			p.includeForced(c)
			continue
		}
		p.fit(c, false)
	}
}

// dependencyAware walks the loading order of the minimal context of
// roots so prerequisites always precede their dependents. Documents
// outside that context are excluded as below the relevance threshold.
func (p *plan) dependencyAware(roots []string, sections bool) {
	pool := p.closure(roots)
	p.walk(pool, sections)
	for _, id := range p.undecided() {
		p.exclude(p.cands[id], ReasonBelowThreshold, "")
	}
}

// hybrid spends the budget on relevant documents at section granularity
// first, then fills what is left with the rest in priority order.
func (p *plan) hybrid() {
	var roots []string
	for _, id := range p.ids {
		c := p.cands[id]
		if c.err == nil && (c.mandatory || p.relevant(c)) {
			roots = append(roots, id)
		}
	}
	if len(roots) > 0 {
		p.walk(p.closure(roots), true)
	}
	p.priority(p.undecided())
}

// closure returns the ordering-kind reachability closure of roots.
func (p *plan) closure(roots []string) map[string]bool {
	pool := make(map[string]bool)
	for _, id := range roots {
		reach, err := p.g.MinimalContext(id, graph.OrderingKinds...)
		if err != nil {
			continue
		}
		for _, r := range reach {
			pool[r] = true
		}
	}
	return pool
}

// walk visits pool in loading order. A document whose prerequisite was
// excluded is excluded too.
func (p *plan) walk(pool map[string]bool, sections bool) {
	ids := make([]string, 0, len(pool))
	for id := range pool {
		ids = append(ids, id)
	}
	order, err := p.g.SubsetOrder(ids, graph.OrderingKinds...)
	if err != nil {
		var cycle *graph.CycleError
		if errors.As(err, &cycle) {
			p.warn("%v; falling back to priority order", err)
		} else {
			p.warn("loading order unavailable (%v); falling back to priority order", err)
		}
		order = p.byPriority(p.ids)
	}

	for _, id := range order {
		if !pool[id] || p.decided[id] {
			continue
		}
		c := p.cands[id]
		if c.forced() {
			p.includeForced(c)
			continue
		}
		if dep := p.excludedDependency(id); dep != "" {
			p.exclude(c, ReasonDependencyExcluded, "depends on "+dep)
			continue
		}
		p.fit(c, sections)
	}
}

func (p *plan) excludedDependency(id string) string {
	for _, dep := range p.g.Dependencies(id, graph.OrderingKinds...) {
		if p.excluded[dep] {
			return dep
		}
	}
	return ""
}

// byPriority sorts ids by tier, then descending score, then id.
func (p *plan) byPriority(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := p.cands[out[i]], p.cands[out[j]]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.id < b.id
	})
	return out
}

// ─── Fitting ────────────────────────────────────────────────────────────────

// fit includes c whole if it fits, then section by section when sections
// is set, then through the summarization levels in order. Otherwise c is
// excluded for budget.
func (p *plan) fit(c *candidate, sections bool) {
	if c.tokens <= p.remaining {
		p.include(c, c.text, c.tokens, nil, SummaryNone, true)
		return
	}
	if sections {
		if text, n, names, ok := p.fitSections(c); ok {
			p.include(c, text, n, names, SummaryNone, true)
			return
		}
	}
	for level := SummaryKeySections; level <= SummaryHeadings; level++ {
		text := Summarize(c.text, level, p.o.cfg.SummaryLines)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if n := p.count(text); n <= p.remaining {
			p.include(c, text, n, nil, level, true)
			return
		}
	}
	p.exclude(c, ReasonBudgetExhausted, "")
}

// preambleName labels text before a document's first split heading.
const preambleName = "(preamble)"

// fitSections greedily packs the most relevant sections of c that fit,
// keeping them in document order.
func (p *plan) fitSections(c *candidate) (string, int, []string, bool) {
	secs := SplitSections(c.text)
	if len(secs) < 2 {
		return "", 0, nil, false
	}

	scores := make([]float64, len(secs))
	for i, s := range secs {
		scores[i] = p.scorer.ScoreText(s.Text)
	}
	ranked := append([]Section(nil), secs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].Index] > scores[ranked[j].Index]
	})

	var (
		chosen []Section
		text   string
		n      int
	)
	for _, s := range ranked {
		trial := append(append([]Section(nil), chosen...), s)
		sort.Slice(trial, func(i, j int) bool { return trial[i].Index < trial[j].Index })
		t := joinSections(trial)
		if k := p.count(t); k <= p.remaining {
			chosen, text, n = trial, t, k
		}
	}
	if len(chosen) == 0 {
		return "", 0, nil, false
	}
	names := make([]string, len(chosen))
	for i, s := range chosen {
		names[i] = s.Heading
		if names[i] == "" {
			names[i] = preambleName
		}
	}
	return text, n, names, true
}

func joinSections(secs []Section) string {
	parts := make([]string, len(secs))
	for i, s := range secs {
		parts[i] = s.Text
	}
	return strings.Join(parts, "\n")
}

// ─── Bookkeeping ────────────────────────────────────────────────────────────

func (p *plan) includeForced(c *candidate) {
	// forced tokens were reserved in markMandatory
	p.include(c, c.text, c.tokens, nil, SummaryNone, false)
}

func (p *plan) include(c *candidate, text string, n int, sections []string, level SummaryLevel, charge bool) {
	p.decided[c.id] = true
	if charge {
		p.remaining -= n
	}
	p.used += n
	p.selections = append(p.selections, Selection{
		Document:       c.id,
		Tier:           c.tier,
		Sections:       sections,
		Score:          c.score,
		Tokens:         n,
		OriginalTokens: c.tokens,
		Summary:        level,
		SummaryName:    level.String(),
		Mandatory:      c.mandatory,
		Required:       c.required,
		Content:        text,
	})
}

func (p *plan) exclude(c *candidate, reason Reason, detail string) {
	p.decided[c.id] = true
	p.excluded[c.id] = true
	p.exclusions = append(p.exclusions, Exclusion{
		Document: c.id,
		Reason:   reason,
		Score:    c.score,
		Tokens:   c.tokens,
		Detail:   detail,
	})
}

func (p *plan) count(text string) int {
	n, estimated := p.o.counter.Measure(text)
	if estimated {
		p.estimated.Store(true)
	}
	return n
}

func (p *plan) warn(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *plan) finish() *Result {
	res := &Result{
		ID:              uuid.NewString(),
		Task:            p.req.Task,
		Strategy:        p.req.Strategy,
		Budget:          p.req.Budget,
		TotalTokens:     p.used,
		Utilization:     float64(p.used) / float64(p.req.Budget),
		OverBudget:      p.used > p.req.Budget,
		EstimatedTokens: p.estimated.Load(),
		Threshold:       p.threshold,
		Selections:      p.selections,
		Exclusions:      p.exclusions,
		Warnings:        p.warnings,
	}
	if res.Selections == nil {
		res.Selections = []Selection{}
	}
	if res.Exclusions == nil {
		res.Exclusions = []Exclusion{}
	}
	if res.EstimatedTokens {
		res.Warnings = append(res.Warnings, "token counts are word-count estimates")
	}

	switch {
	case res.OverBudget:
		res.Status = StatusOverBudget
	case len(res.Exclusions) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusComplete
	}
	return res
}
