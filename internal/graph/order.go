package graph

import (
	"container/heap"
	"slices"
)

// MaxCycles bounds cycle enumeration on pathological graphs.
const MaxCycles = 256

// LoadingOrder returns a topological order in which every document comes
// after the documents it depends on (static and transclusion edges). Among
// ready documents the lowest tier wins, then the lexicographically smallest
// id. A graph with a cycle yields a *CycleError and no order.
func (g *Graph) LoadingOrder() ([]string, error) {
	return g.order(nil, OrderingKinds)
}

// LoadingOrderFor is LoadingOrder over an explicit set of edge kinds.
func (g *Graph) LoadingOrderFor(kinds ...EdgeKind) ([]string, error) {
	return g.order(nil, kinds)
}

// SubsetOrder is LoadingOrder restricted to ids: edges leaving the subset
// are ignored, so a cycle elsewhere in the graph does not affect it.
// Unknown ids are skipped.
func (g *Graph) SubsetOrder(ids []string, kinds ...EdgeKind) ([]string, error) {
	within := make(map[string]bool, len(ids))
	for _, id := range ids {
		if g.Has(id) {
			within[id] = true
		}
	}
	return g.order(within, kinds)
}

// TransclusionOrder returns the expansion order of the transclusion
// subgraph reachable from start: innermost inclusions first, start last.
func (g *Graph) TransclusionOrder(start string) ([]string, error) {
	reach, err := g.MinimalContext(start, EdgeTransclusion)
	if err != nil {
		return nil, err
	}
	within := make(map[string]bool, len(reach))
	for _, id := range reach {
		within[id] = true
	}
	return g.order(within, []EdgeKind{EdgeTransclusion})
}

// order runs Kahn's algorithm over the nodes in within (all nodes when nil)
// following edges of the given kinds.
func (g *Graph) order(within map[string]bool, kinds []EdgeKind) ([]string, error) {
	in := func(id string) bool { return within == nil || within[id] }

	remaining := make(map[string]int)
	dependents := make(map[string][]string)
	for _, id := range g.IDs() {
		if !in(id) {
			continue
		}
		deps := 0
		for _, d := range g.Dependencies(id, kinds...) {
			if !in(d) {
				continue
			}
			deps++
			dependents[d] = append(dependents[d], id)
		}
		remaining[id] = deps
	}

	ready := &readyQueue{g: g}
	for id, n := range remaining {
		if n == 0 {
			heap.Push(ready, id)
		}
	}

	out := make([]string, 0, len(remaining))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		out = append(out, id)
		for _, dep := range dependents[id] {
			remaining[dep]--
			if remaining[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(out) == len(remaining) {
		return out, nil
	}

	stuck := make(map[string]bool)
	for id, n := range remaining {
		if n > 0 {
			stuck[id] = true
		}
	}
	if cycle := g.findCycle(stuck, kinds); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}
	// Unreachable for a consistent graph; keep the error informative.
	return nil, &CycleError{Path: setToSorted(stuck)}
}

// DetectCycles returns every elementary cycle over the ordering edge kinds.
// Each cycle is reported once, rotated to start at its smallest id, as a
// closed path [a, b, ..., a], in deterministic order. At most MaxCycles
// are returned; FindCycles reports whether the listing was cut short.
func (g *Graph) DetectCycles() [][]string {
	cycles, _ := g.FindCycles(OrderingKinds...)
	return cycles
}

// DetectCyclesFor is DetectCycles over an explicit set of edge kinds.
func (g *Graph) DetectCyclesFor(kinds ...EdgeKind) [][]string {
	cycles, _ := g.FindCycles(kinds...)
	return cycles
}

// FindCycles is DetectCyclesFor that also reports whether more than
// MaxCycles cycles exist and the listing was truncated.
func (g *Graph) FindCycles(kinds ...EdgeKind) ([][]string, bool) {
	return g.cycles(nil, kinds, MaxCycles)
}

// adjacency returns the sorted ids in within (all when nil) and their
// dependencies restricted to the same set.
func (g *Graph) adjacency(within map[string]bool, kinds []EdgeKind) ([]string, map[string][]string) {
	in := func(id string) bool { return within == nil || within[id] }
	var ids []string
	adj := make(map[string][]string)
	for _, id := range g.IDs() {
		if !in(id) {
			continue
		}
		ids = append(ids, id)
		for _, d := range g.Dependencies(id, kinds...) {
			if in(d) {
				adj[id] = append(adj[id], d)
			}
		}
	}
	return ids, adj
}

// cycles enumerates elementary cycles with Johnson's algorithm. Strongly
// connected components are computed first and only components that can
// hold a cycle are searched, so acyclic regions cost linear time.
func (g *Graph) cycles(within map[string]bool, kinds []EdgeKind, limit int) ([][]string, bool) {
	ids, adj := g.adjacency(within, kinds)
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}

	comp := components(ids, adj)
	size := make(map[int]int)
	for _, c := range comp {
		size[c]++
	}

	j := &johnson{adj: adj, limit: limit}
	for _, s := range ids {
		if j.truncated {
			break
		}
		if size[comp[s]] == 1 && !slices.Contains(adj[s], s) {
			continue
		}
		// Nodes of s's component ranked at or after s that lie on a cycle
		// through s: every cycle reported from s has s as its smallest id.
		eligible := func(id string) bool { return comp[id] == comp[s] && rank[id] >= rank[s] }
		j.reset(s, cycleZone(s, adj, eligible))
		j.circuit(s)
	}
	return j.found, j.truncated
}

// cycleZone returns the eligible nodes that are both reachable from s and
// reach s.
func cycleZone(s string, adj map[string][]string, eligible func(string) bool) map[string]bool {
	forward := map[string]bool{s: true}
	reverse := make(map[string][]string)
	queue := []string{s}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range adj[v] {
			if !eligible(w) {
				continue
			}
			reverse[w] = append(reverse[w], v)
			if !forward[w] {
				forward[w] = true
				queue = append(queue, w)
			}
		}
	}

	zone := map[string]bool{s: true}
	queue = []string{s}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, u := range reverse[v] {
			if !zone[u] {
				zone[u] = true
				queue = append(queue, u)
			}
		}
	}
	return zone
}

// johnson holds the search state of one enumeration.
type johnson struct {
	adj       map[string][]string
	limit     int
	found     [][]string
	truncated bool

	start   string
	zone    map[string]bool
	blocked map[string]bool
	blockOn map[string]map[string]bool
	path    []string
}

func (j *johnson) reset(start string, zone map[string]bool) {
	j.start = start
	j.zone = zone
	j.blocked = make(map[string]bool)
	j.blockOn = make(map[string]map[string]bool)
	j.path = j.path[:0]
}

// circuit extends the current path from v and reports whether any cycle
// back to the start was closed through it.
func (j *johnson) circuit(v string) bool {
	closed := false
	j.path = append(j.path, v)
	j.blocked[v] = true

	for _, w := range j.adj[v] {
		if j.truncated {
			break
		}
		if !j.zone[w] {
			continue
		}
		if w == j.start {
			j.record()
			closed = true
			continue
		}
		if !j.blocked[w] && j.circuit(w) {
			closed = true
		}
	}

	if closed {
		j.unblock(v)
	} else {
		for _, w := range j.adj[v] {
			if !j.zone[w] {
				continue
			}
			if j.blockOn[w] == nil {
				j.blockOn[w] = make(map[string]bool)
			}
			j.blockOn[w][v] = true
		}
	}
	j.path = j.path[:len(j.path)-1]
	return closed
}

func (j *johnson) unblock(v string) {
	j.blocked[v] = false
	waiting := j.blockOn[v]
	delete(j.blockOn, v)
	for u := range waiting {
		if j.blocked[u] {
			j.unblock(u)
		}
	}
}

func (j *johnson) record() {
	if len(j.found) >= j.limit {
		j.truncated = true
		return
	}
	cycle := make([]string, len(j.path)+1)
	copy(cycle, j.path)
	cycle[len(j.path)] = j.start
	j.found = append(j.found, cycle)
}

// components labels every id with its strongly connected component using
// Tarjan's algorithm.
func components(ids []string, adj map[string][]string) map[string]int {
	var (
		index   = make(map[string]int, len(ids))
		low     = make(map[string]int, len(ids))
		onStack = make(map[string]bool)
		stack   []string
		comp    = make(map[string]int, len(ids))
		next    int
		label   int
	)

	var strong func(v string)
	strong = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := index[w]; !seen {
				strong(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp[w] = label
				if w == v {
					break
				}
			}
			label++
		}
	}

	for _, id := range ids {
		if _, seen := index[id]; !seen {
			strong(id)
		}
	}
	return comp
}

// findCycle returns one cycle among the nodes in within, rotated to start
// at its smallest id, or nil when that subgraph is acyclic. It is a single
// three-colour depth-first search.
func (g *Graph) findCycle(within map[string]bool, kinds []EdgeKind) []string {
	const (
		white = iota
		gray
		black
	)
	ids, adj := g.adjacency(within, kinds)
	color := make(map[string]int, len(ids))
	var path []string
	var cycle []string

	var visit func(v string) bool
	visit = func(v string) bool {
		color[v] = gray
		path = append(path, v)
		for _, w := range adj[v] {
			switch color[w] {
			case gray:
				at := len(path) - 1
				for path[at] != w {
					at--
				}
				cycle = append(append([]string{}, path[at:]...), w)
				return true
			case white:
				if visit(w) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[v] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return rotateCycle(cycle)
		}
	}
	return nil
}

// rotateCycle rewrites the closed path so it starts and ends at its
// smallest id.
func rotateCycle(cycle []string) []string {
	open := cycle[:len(cycle)-1]
	at := 0
	for i, id := range open {
		if id < open[at] {
			at = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, open[at:]...)
	out = append(out, open[:at]...)
	return append(out, open[at])
}

// readyQueue is a min-heap of node ids ordered by (tier, id).
type readyQueue struct {
	g   *Graph
	ids []string
}

func (q *readyQueue) Len() int { return len(q.ids) }

func (q *readyQueue) Less(i, j int) bool {
	ti, tj := q.g.nodes[q.ids[i]].Tier, q.g.nodes[q.ids[j]].Tier
	if ti != tj {
		return ti < tj
	}
	return q.ids[i] < q.ids[j]
}

func (q *readyQueue) Swap(i, j int) { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }

func (q *readyQueue) Push(x any) { q.ids = append(q.ids, x.(string)) }

func (q *readyQueue) Pop() any {
	old := q.ids
	n := len(old)
	id := old[n-1]
	q.ids = old[:n-1]
	return id
}
