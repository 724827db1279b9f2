package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/membank/internal/corpus"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// mustAdd registers documents, failing the test on error.
func mustAdd(t *testing.T, g *Graph, id string, tier int, deps ...string) {
	t.Helper()
	require.NoError(t, g.AddDocument(id, tier, deps))
}

func mustLink(t *testing.T, g *Graph, from, to string, kind EdgeKind) {
	t.Helper()
	require.NoError(t, g.AddLinkDependency(from, to, kind))
}

// memReader is an in-memory corpus.Reader.
type memReader struct {
	docs     map[string]string
	vanished map[string]bool
	failing  map[string]bool
}

func (m *memReader) ListDocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memReader) ReadDocument(ctx context.Context, id string) (corpus.Document, error) {
	if m.vanished[id] {
		return corpus.Document{}, fmt.Errorf("%w: %s", corpus.ErrNotFound, id)
	}
	if m.failing[id] {
		return corpus.Document{}, errors.New("disk on fire")
	}
	text, ok := m.docs[id]
	if !ok {
		return corpus.Document{}, fmt.Errorf("%w: %s", corpus.ErrNotFound, id)
	}
	return corpus.NewDocument(id, []byte(text), time.Time{}), nil
}

// assertTopological checks that every ordering edge points from a
// dependency placed earlier to a dependent placed later.
func assertTopological(t *testing.T, g *Graph, order []string) {
	t.Helper()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Len(t, pos, g.Len(), "order must be a permutation of the nodes")
	for _, e := range g.Edges() {
		if e.Kind == EdgeReference {
			continue
		}
		assert.Less(t, pos[e.To], pos[e.From], "%s must load before %s", e.To, e.From)
	}
}

// ─── Construction ────────────────────────────────────────────────────────────

func TestAddDocument_Duplicate(t *testing.T) {
	g := New()
	mustAdd(t, g, "a.md", 0)

	err := g.AddDocument("a.md", 1, nil)
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.Contains(t, err.Error(), "a.md")
}

func TestAddLinkDependency_UnknownNode(t *testing.T) {
	g := New()
	mustAdd(t, g, "a.md", 0)

	assert.ErrorIs(t, g.AddLinkDependency("a.md", "ghost.md", EdgeReference), ErrUnknownNode)
	assert.ErrorIs(t, g.AddLinkDependency("ghost.md", "a.md", EdgeReference), ErrUnknownNode)
}

func TestAddLinkDependency_CollapsesDuplicates(t *testing.T) {
	g := New()
	mustAdd(t, g, "a.md", 0)
	mustAdd(t, g, "b.md", 0)
	mustLink(t, g, "a.md", "b.md", EdgeTransclusion)
	mustLink(t, g, "a.md", "b.md", EdgeTransclusion)
	mustLink(t, g, "a.md", "b.md", EdgeReference)

	assert.Len(t, g.Edges(), 2)
}

// ─── Loading order ───────────────────────────────────────────────────────────

func TestLoadingOrder_SimpleChain(t *testing.T) {
	g := New()
	mustAdd(t, g, "A", 0)
	mustAdd(t, g, "B", 0, "A")
	mustAdd(t, g, "C", 0, "B")

	order, err := g.LoadingOrder()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"A", "B", "C"}, order); diff != "" {
		t.Errorf("loading order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadingOrder_TieBreakTierThenID(t *testing.T) {
	g := New()
	mustAdd(t, g, "zeta.md", 0)
	mustAdd(t, g, "alpha.md", 2)
	mustAdd(t, g, "beta.md", 1)
	mustAdd(t, g, "gamma.md", 1)

	order, err := g.LoadingOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta.md", "beta.md", "gamma.md", "alpha.md"}, order)
}

func TestLoadingOrder_FoundationShape(t *testing.T) {
	g := New()
	for _, id := range corpus.FoundationOrder {
		tier, deps := corpus.Foundation(id)
		mustAdd(t, g, id, tier, deps...)
	}
	mustAdd(t, g, "auth.md", corpus.DefaultTier)
	mustLink(t, g, corpus.ActiveContext, "auth.md", EdgeTransclusion)

	order, err := g.LoadingOrder()
	require.NoError(t, err)
	assertTopological(t, g, order)
	assert.Equal(t, corpus.ProjectBrief, order[0])
	assert.Equal(t, corpus.Progress, order[len(order)-1])
}

func TestLoadingOrder_RespectsEveryEdge(t *testing.T) {
	// A layered DAG with mixed tiers and edge kinds.
	g := New()
	for i := 0; i < 12; i++ {
		mustAdd(t, g, fmt.Sprintf("n%02d.md", i), (i*7)%4)
	}
	for i := 0; i < 12; i++ {
		for j := i + 1; j < 12; j++ {
			if (i*j)%5 != 1 {
				continue
			}
			kind := EdgeTransclusion
			if (i+j)%2 == 0 {
				kind = EdgeReference
			}
			mustLink(t, g, fmt.Sprintf("n%02d.md", j), fmt.Sprintf("n%02d.md", i), kind)
		}
	}

	order, err := g.LoadingOrder()
	require.NoError(t, err)
	assertTopological(t, g, order)
}

func TestLoadingOrder_ReferenceCyclesDoNotBlock(t *testing.T) {
	g := New()
	mustAdd(t, g, "a.md", 0)
	mustAdd(t, g, "b.md", 0)
	mustLink(t, g, "a.md", "b.md", EdgeReference)
	mustLink(t, g, "b.md", "a.md", EdgeReference)

	order, err := g.LoadingOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, order)

	_, err = g.LoadingOrderFor(AllKinds...)
	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestLoadingOrder_CycleFailsWithPath(t *testing.T) {
	g := New()
	mustAdd(t, g, "a.md", 0)
	mustAdd(t, g, "b.md", 0)
	mustAdd(t, g, "c.md", 0)
	mustAdd(t, g, "d.md", 0, "c.md")
	mustLink(t, g, "a.md", "b.md", EdgeTransclusion)
	mustLink(t, g, "b.md", "a.md", EdgeTransclusion)

	order, err := g.LoadingOrder()
	assert.Nil(t, order, "no partial order on cycle")

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a.md", "b.md", "a.md"}, cycleErr.Path)
	assert.Contains(t, err.Error(), "a.md -> b.md -> a.md")
}

// ─── Cycle detection ─────────────────────────────────────────────────────────

func TestDetectCycles_DisjointCycles(t *testing.T) {
	g := New()
	const n = 4
	for c := 0; c < n; c++ {
		for k := 0; k < 3; k++ {
			mustAdd(t, g, fmt.Sprintf("c%d-%d.md", c, k), 0)
		}
	}
	for c := 0; c < n; c++ {
		for k := 0; k < 3; k++ {
			from := fmt.Sprintf("c%d-%d.md", c, k)
			to := fmt.Sprintf("c%d-%d.md", c, (k+1)%3)
			mustLink(t, g, from, to, EdgeTransclusion)
		}
	}
	mustAdd(t, g, "tail.md", 0)
	mustLink(t, g, "tail.md", "c0-0.md", EdgeTransclusion)

	cycles := g.DetectCycles()
	require.Len(t, cycles, n)

	got := make(map[string]bool)
	for _, c := range cycles {
		assert.Equal(t, c[0], c[len(c)-1], "cycle path must be closed")
		got[strings.Join(c, ">")] = true
	}
	for c := 0; c < n; c++ {
		want := fmt.Sprintf("c%d-0.md>c%d-1.md>c%d-2.md>c%d-0.md", c, c, c, c)
		assert.True(t, got[want], "missing cycle %s", want)
	}
}

func TestDetectCycles_OverlappingCyclesAllFound(t *testing.T) {
	// a<->b and a->b->c->a share the a->b edge.
	g := New()
	mustAdd(t, g, "a", 0, "b")
	mustAdd(t, g, "b", 0, "a", "c")
	mustAdd(t, g, "c", 0, "a")

	cycles := g.DetectCycles()
	var rendered []string
	for _, c := range cycles {
		rendered = append(rendered, strings.Join(c, ">"))
	}
	assert.ElementsMatch(t, []string{"a>b>a", "a>b>c>a"}, rendered)
}

func TestDetectCycles_SelfLoop(t *testing.T) {
	g := New()
	mustAdd(t, g, "self.md", 0)
	mustLink(t, g, "self.md", "self.md", EdgeTransclusion)

	assert.Equal(t, [][]string{{"self.md", "self.md"}}, g.DetectCycles())
}

func TestDetectCycles_AcyclicIsEmpty(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", 0)
	mustAdd(t, g, "b", 0, "a")
	assert.Empty(t, g.DetectCycles())
}

// chain builds n documents where each one transcludes the next three.
func chain(t *testing.T, n int) *Graph {
	t.Helper()
	g := New()
	for i := 0; i < n; i++ {
		mustAdd(t, g, fmt.Sprintf("doc%02d.md", i), 0)
	}
	for i := 0; i < n; i++ {
		for k := 1; k <= 3 && i+k < n; k++ {
			mustLink(t, g, fmt.Sprintf("doc%02d.md", i), fmt.Sprintf("doc%02d.md", i+k), EdgeTransclusion)
		}
	}
	return g
}

func TestDetectCycles_WideAcyclicGraphIsFast(t *testing.T) {
	g := chain(t, 40)

	began := time.Now()
	cycles, truncated := g.FindCycles(OrderingKinds...)
	order, err := g.LoadingOrder()
	d := g.Describe()
	elapsed := time.Since(began)

	assert.Empty(t, cycles)
	assert.False(t, truncated)
	require.NoError(t, err)
	assert.Len(t, order, 40)
	assert.Empty(t, d.OrderError)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestLoadingOrder_CycleBehindWideGraphIsFast(t *testing.T) {
	// Every chain document depends on doc39, which closes a loop with
	// the late-sorting zz.md.
	g := chain(t, 40)
	mustAdd(t, g, "zz.md", 0)
	mustLink(t, g, "doc39.md", "zz.md", EdgeTransclusion)
	mustLink(t, g, "zz.md", "doc39.md", EdgeTransclusion)

	began := time.Now()
	_, err := g.LoadingOrder()
	cycles := g.DetectCycles()
	elapsed := time.Since(began)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"doc39.md", "zz.md", "doc39.md"}, cycleErr.Path)
	assert.Equal(t, [][]string{{"doc39.md", "zz.md", "doc39.md"}}, cycles)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestDetectCycles_CompleteGraphIsTruncated(t *testing.T) {
	// Six mutually dependent documents hold 409 elementary cycles.
	g := New()
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		var deps []string
		for _, other := range ids {
			if other != id {
				deps = append(deps, other)
			}
		}
		mustAdd(t, g, id, 0, deps...)
	}

	cycles, truncated := g.FindCycles(OrderingKinds...)
	assert.True(t, truncated)
	assert.Len(t, cycles, MaxCycles)
	assert.True(t, g.Describe().CyclesTruncated)

	seen := make(map[string]bool)
	for _, c := range cycles {
		key := strings.Join(c, ">")
		assert.False(t, seen[key], "duplicate cycle %s", key)
		seen[key] = true
		assert.Equal(t, c[0], c[len(c)-1])
	}
}

func TestDetectCycles_JohnsonCountsEveryCycle(t *testing.T) {
	// Four mutually dependent documents: 6 two-cycles, 8 three-cycles
	// and 6 four-cycles.
	g := New()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		var deps []string
		for _, other := range ids {
			if other != id {
				deps = append(deps, other)
			}
		}
		mustAdd(t, g, id, 0, deps...)
	}

	cycles, truncated := g.FindCycles(OrderingKinds...)
	assert.False(t, truncated)
	assert.Len(t, cycles, 20)
	for _, c := range cycles {
		for _, id := range c[1 : len(c)-1] {
			assert.Greater(t, id, c[0], "cycle %v must start at its smallest id", c)
		}
	}
}

func TestDetectCycles_StaticSelfDependency(t *testing.T) {
	g := New()
	mustAdd(t, g, "x.md", 0, "x.md")

	assert.Equal(t, [][]string{{"x.md", "x.md"}}, g.DetectCycles())

	_, err := g.LoadingOrder()
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"x.md", "x.md"}, cycleErr.Path)
}

// ─── Reachability ────────────────────────────────────────────────────────────

func TestMinimalContext_FollowsOnlyRequestedKinds(t *testing.T) {
	g := New()
	mustAdd(t, g, "brief.md", 0)
	mustAdd(t, g, "active.md", 2, "brief.md")
	mustAdd(t, g, "auth.md", 4)
	mustAdd(t, g, "glossary.md", 4)
	mustLink(t, g, "active.md", "auth.md", EdgeTransclusion)
	mustLink(t, g, "auth.md", "glossary.md", EdgeReference)

	got, err := g.MinimalContext("active.md", EdgeStatic, EdgeTransclusion)
	require.NoError(t, err)
	assert.Equal(t, []string{"active.md", "auth.md", "brief.md"}, got)

	got, err = g.MinimalContext("active.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"active.md", "auth.md", "brief.md", "glossary.md"}, got)

	_, err = g.MinimalContext("ghost.md")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestMinimalContext_IgnoresUnregisteredStaticDeps(t *testing.T) {
	g := New()
	mustAdd(t, g, "progress.md", 3, "activeContext.md")

	got, err := g.MinimalContext("progress.md", EdgeStatic)
	require.NoError(t, err)
	assert.Equal(t, []string{"progress.md"}, got)
}

func TestTransclusionOrder(t *testing.T) {
	g := New()
	mustAdd(t, g, "root.md", 0)
	mustAdd(t, g, "mid.md", 1)
	mustAdd(t, g, "leaf.md", 2)
	mustAdd(t, g, "other.md", 0)
	mustLink(t, g, "root.md", "mid.md", EdgeTransclusion)
	mustLink(t, g, "mid.md", "leaf.md", EdgeTransclusion)
	mustLink(t, g, "root.md", "other.md", EdgeReference)

	order, err := g.TransclusionOrder("root.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"leaf.md", "mid.md", "root.md"}, order)
}

// ─── Build ───────────────────────────────────────────────────────────────────

func TestBuild_FromCorpus(t *testing.T) {
	reader := &memReader{
		docs: map[string]string{
			corpus.ProjectBrief:  "# Brief\n",
			corpus.ActiveContext: "# Active\n![[auth#Login]]\nSee [[progress]] and [[missing]].\n",
			"auth.md":            "# Auth\n## Login\nuse tokens\n",
			corpus.Progress:      "# Progress\n[[progress#Done]]\n",
			"gone.md":            "x",
			"broken.md":          "x",
		},
		vanished: map[string]bool{"gone.md": true},
		failing:  map[string]bool{"broken.md": true},
	}

	g, err := Build(context.Background(), reader, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.False(t, g.Has("gone.md"))

	report := g.Report()
	assert.Equal(t, []string{"gone.md"}, report.Vanished)
	assert.Contains(t, report.Failed, "broken.md")
	require.Len(t, report.Broken, 1)
	assert.Equal(t, "missing.md", report.Broken[0].Target)
	assert.Equal(t, 3, report.Broken[0].Line)

	assert.Equal(t, []string{"auth.md"}, g.Dependencies(corpus.ActiveContext, EdgeTransclusion))
	assert.Equal(t, []string{corpus.ActiveContext}, g.Dependencies(corpus.Progress, EdgeStatic))
	assert.Empty(t, g.Dependencies(corpus.Progress, EdgeReference), "self references are not edges")

	order, err := g.LoadingOrder()
	require.NoError(t, err)
	assertTopological(t, g, order)
}

// ─── Describe ────────────────────────────────────────────────────────────────

func TestRender_Formats(t *testing.T) {
	g := New()
	mustAdd(t, g, "projectbrief.md", 0)
	mustAdd(t, g, "notes/auth.md", 4, "projectbrief.md")
	mustLink(t, g, "notes/auth.md", "projectbrief.md", EdgeReference)

	out, err := g.Render(FormatMermaid)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `n0["notes/auth.md (tier 4)"]`)
	assert.Contains(t, out, `n1["projectbrief.md (tier 0)"]`)
	assert.Contains(t, out, "n0 -->|static| n1")
	assert.Contains(t, out, "n0 -.->|reference| n1")

	out, err = g.Render(FormatDOT)
	require.NoError(t, err)
	assert.Contains(t, out, `"notes/auth.md" -> "projectbrief.md" [style=dashed`)

	out, err = g.Render(FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, out, `"loading_order"`)

	_, err = g.Render("svg")
	assert.Error(t, err)
}

func TestRender_MermaidIDsStayDistinct(t *testing.T) {
	g := New()
	mustAdd(t, g, "a-b.md", 0)
	mustAdd(t, g, "a_b.md", 0, "a-b.md")

	out, err := g.Render(FormatMermaid)
	require.NoError(t, err)
	assert.Contains(t, out, `n0["a-b.md (tier 0)"]`)
	assert.Contains(t, out, `n1["a_b.md (tier 0)"]`)
	assert.Contains(t, out, "n1 -->|static| n0")
}

func TestDescribe_ReportsCycleWithoutFailing(t *testing.T) {
	g := New()
	mustAdd(t, g, "a.md", 0)
	mustAdd(t, g, "b.md", 0)
	mustLink(t, g, "a.md", "b.md", EdgeTransclusion)
	mustLink(t, g, "b.md", "a.md", EdgeTransclusion)

	d := g.Describe()
	assert.Empty(t, d.LoadingOrder)
	assert.NotEmpty(t, d.OrderError)
	assert.Equal(t, [][]string{{"a.md", "b.md", "a.md"}}, d.Cycles)
}
