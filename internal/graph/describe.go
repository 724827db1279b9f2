package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/membank/internal/links"
)

// Format selects a graph rendering.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
)

// FormatValues returns the accepted formats, for tool definitions.
func FormatValues() []string {
	return []string{string(FormatJSON), string(FormatMermaid), string(FormatDOT)}
}

// NodeView is the public shape of a node in a description.
type NodeView struct {
	ID         string   `json:"id"`
	Tier       int      `json:"tier"`
	StaticDeps []string `json:"static_deps,omitempty"`
}

// Description is the structured form of the graph.
type Description struct {
	Nodes        []NodeView `json:"nodes"`
	Edges        []EdgeView `json:"edges"`
	LoadingOrder []string   `json:"loading_order,omitempty"`
	Cycles       [][]string `json:"cycles,omitempty"`
	// CyclesTruncated is set when more than MaxCycles cycles exist.
	CyclesTruncated bool         `json:"cycles_truncated,omitempty"`
	Broken          []links.Link `json:"broken_links,omitempty"`
	OrderError      string       `json:"order_error,omitempty"`
}

// Describe returns the structured description of the graph. A cycle does
// not fail the description: it is reported in Cycles and OrderError.
func (g *Graph) Describe() Description {
	d := Description{
		Nodes:  make([]NodeView, 0, len(g.nodes)),
		Edges:  g.Edges(),
		Broken: g.report.Broken,
	}
	d.Cycles, d.CyclesTruncated = g.FindCycles(OrderingKinds...)
	for _, id := range g.IDs() {
		n := g.nodes[id]
		d.Nodes = append(d.Nodes, NodeView{ID: n.ID, Tier: n.Tier, StaticDeps: n.StaticDeps})
	}
	order, err := g.LoadingOrder()
	if err != nil {
		d.OrderError = err.Error()
	} else {
		d.LoadingOrder = order
	}
	return d
}

// Render returns the graph in the requested format.
func (g *Graph) Render(format Format) (string, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(g.Describe(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling graph: %w", err)
		}
		return string(data), nil
	case FormatMermaid:
		return g.mermaid(), nil
	case FormatDOT:
		return g.dot(), nil
	default:
		return "", fmt.Errorf("unknown graph format %q (want one of %s)", format, strings.Join(FormatValues(), ", "))
	}
}

// mermaid labels nodes n0, n1, ... by their position in IDs, since
// sanitized document ids can collide.
func (g *Graph) mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	ids := g.IDs()
	key := make(map[string]string, len(ids))
	for i, id := range ids {
		key[id] = fmt.Sprintf("n%d", i)
		fmt.Fprintf(&b, "    %s[\"%s (tier %d)\"]\n", key[id], strings.ReplaceAll(id, `"`, "#quot;"), g.nodes[id].Tier)
	}
	for _, e := range g.Edges() {
		arrow := "-->"
		switch e.Kind {
		case EdgeReference:
			arrow = "-.->"
		case EdgeTransclusion:
			arrow = "==>"
		}
		fmt.Fprintf(&b, "    %s %s|%s| %s\n", key[e.From], arrow, e.Kind, key[e.To])
	}
	return b.String()
}

func (g *Graph) dot() string {
	var b strings.Builder
	b.WriteString("digraph memorybank {\n    rankdir=BT;\n")
	for _, id := range g.IDs() {
		fmt.Fprintf(&b, "    %q [label=\"%s\\ntier %d\"];\n", id, id, g.nodes[id].Tier)
	}
	for _, e := range g.Edges() {
		style := "solid"
		switch e.Kind {
		case EdgeReference:
			style = "dashed"
		case EdgeTransclusion:
			style = "bold"
		}
		fmt.Fprintf(&b, "    %q -> %q [style=%s, label=%q];\n", e.From, e.To, style, e.Kind)
	}
	b.WriteString("}\n")
	return b.String()
}
