// Package graph implements the dependency graph over memory-bank documents.
//
// Nodes are documents; an edge source -> target means "source depends on
// target", so target must be loaded before source. Edges come from three
// places: the fixed foundation table and front matter (static), navigational
// links (reference), and inclusion directives (transclusion).
//
// # Lifecycle
//
// A graph is built once per corpus scan with AddDocument/AddLinkDependency
// (or Build), then only queried. It is rebuilt, never mutated in place,
// when the corpus changes. Queries are pure in-memory computations and are
// safe for concurrent readers once building is done.
package graph

import (
	"fmt"
	"sort"

	"github.com/HendryAvila/membank/internal/links"
)

// EdgeKind classifies a dependency edge.
type EdgeKind string

const (
	EdgeStatic       EdgeKind = "static"
	EdgeReference    EdgeKind = "reference"
	EdgeTransclusion EdgeKind = "transclusion"
)

// OrderingKinds are the edge kinds that constrain loading order. Reference
// links are navigational: two documents may point at each other freely.
var OrderingKinds = []EdgeKind{EdgeStatic, EdgeTransclusion}

// AllKinds lists every edge kind.
var AllKinds = []EdgeKind{EdgeStatic, EdgeReference, EdgeTransclusion}

// KindFromLink maps a link kind to its edge kind.
func KindFromLink(k links.Kind) EdgeKind {
	if k == links.KindTransclusion {
		return EdgeTransclusion
	}
	return EdgeReference
}

// Edge is an outgoing dependency of a node.
type Edge struct {
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Node is one document in the graph.
type Node struct {
	ID         string       `json:"id"`
	Tier       int          `json:"tier"`
	StaticDeps []string     `json:"static_deps,omitempty"`
	Out        []Edge       `json:"out,omitempty"`
	Links      []links.Link `json:"-"`
	Hash       string       `json:"hash,omitempty"`
}

// Graph is a directed dependency graph of documents.
type Graph struct {
	nodes  map[string]*Node
	report BuildReport
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddDocument registers a node. Static dependencies may name documents
// that are registered later; ones that never appear are ignored by queries.
// A document listing itself keeps the edge and is reported as a cycle.
func (g *Graph) AddDocument(id string, tier int, staticDeps []string) error {
	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	deps := append([]string{}, staticDeps...)
	g.nodes[id] = &Node{ID: id, Tier: tier, StaticDeps: deps}
	return nil
}

// AddLinkDependency adds a directed edge from source to target. Both
// endpoints must already be registered. Duplicate edges are collapsed.
func (g *Graph) AddLinkDependency(source, target string, kind EdgeKind) error {
	src, ok := g.nodes[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, source)
	}
	if _, ok := g.nodes[target]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, target)
	}
	for _, e := range src.Out {
		if e.Target == target && e.Kind == kind {
			return nil
		}
	}
	src.Out = append(src.Out, Edge{Target: target, Kind: kind})
	return nil
}

// Has reports whether id is registered.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns a copy of the node registered under id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// IDs returns every node id in lexicographic order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tier returns the priority tier of id, or -1 when unknown.
func (g *Graph) Tier(id string) int {
	if n, ok := g.nodes[id]; ok {
		return n.Tier
	}
	return -1
}

// Dependencies returns the registered targets id depends on through edges
// of the given kinds, sorted and de-duplicated.
func (g *Graph) Dependencies(id string, kinds ...EdgeKind) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	want := kindSet(kinds)
	seen := make(map[string]bool)
	var out []string

	if want[EdgeStatic] {
		for _, d := range n.StaticDeps {
			if _, ok := g.nodes[d]; ok && !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	for _, e := range n.Out {
		if want[e.Kind] && !seen[e.Target] {
			seen[e.Target] = true
			out = append(out, e.Target)
		}
	}
	sort.Strings(out)
	return out
}

// EdgeView is a fully resolved edge, used for descriptions.
type EdgeView struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Edges returns every edge, static ones included, in deterministic order.
func (g *Graph) Edges() []EdgeView {
	var out []EdgeView
	for _, id := range g.IDs() {
		n := g.nodes[id]
		for _, d := range n.StaticDeps {
			if _, ok := g.nodes[d]; ok {
				out = append(out, EdgeView{From: id, To: d, Kind: EdgeStatic})
			}
		}
		for _, e := range n.Out {
			out = append(out, EdgeView{From: id, To: e.Target, Kind: e.Kind})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// MinimalContext returns every document reachable from start following
// only edges whose kind is in kinds, start included, sorted. It answers
// "what must be loaded to render this document".
func (g *Graph) MinimalContext(start string, kinds ...EdgeKind) ([]string, error) {
	if _, ok := g.nodes[start]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, start)
	}
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependencies(current, kinds...) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			queue = append(queue, dep)
		}
	}
	return setToSorted(visited), nil
}

func kindSet(kinds []EdgeKind) map[EdgeKind]bool {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	m := make(map[EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func setToSorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
