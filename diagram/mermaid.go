// Package diagram derives presentation graphs from committed process versions.
package diagram

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/meikuraledutech/procgraph"
)

// Mermaid renders g as a left-to-right Mermaid flowchart. Nodes are listed in layout order
// (x, then y); nodes without a position follow in model order. Shapes follow the node type:
//   - start: ((circle))
//   - step: [rectangle]
//   - decision: {rhombus}
//   - end: ([stadium])
//   - subprocess: [[subroutine]]
func Mermaid(g procgraph.Graph, l procgraph.Layout) string {
	var sb strings.Builder
	sb.WriteString("flowchart LR\n")

	ids := mermaidIDs(g.Nodes)
	ref := func(id string) string {
		if m, ok := ids[id]; ok {
			return m
		}
		return safeID(id)
	}

	nodes := ordered(g.Nodes, l)
	for _, n := range nodes {
		opener, closer := shape(n.Type)
		label := n.Title
		if label == "" {
			label = n.ID
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", ref(n.ID), opener, escape(label), closer)
	}

	for _, e := range g.Edges {
		if e.Label != "" {
			fmt.Fprintf(&sb, "    %s -->|\"%s\"| %s\n", ref(e.Source), escape(e.Label), ref(e.Target))
			continue
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", ref(e.Source), ref(e.Target))
	}

	for _, n := range nodes {
		if n.Type.LinksProcess() && n.TargetProcessID != "" {
			sb.WriteString("    %% " + ref(n.ID) + " links to process " + n.TargetProcessID + "\n")
		}
	}

	return sb.String()
}

func ordered(nodes []procgraph.Node, l procgraph.Layout) []procgraph.Node {
	out := slices.Clone(nodes)
	slices.SortStableFunc(out, func(a, b procgraph.Node) int {
		pa, okA := l.Positions[a.ID]
		pb, okB := l.Positions[b.ID]
		switch {
		case okA && !okB:
			return -1
		case !okA && okB:
			return 1
		case !okA && !okB:
			return 0
		}
		if c := cmp.Compare(pa.X, pb.X); c != 0 {
			return c
		}
		return cmp.Compare(pa.Y, pb.Y)
	})
	return out
}

func shape(t procgraph.NodeType) (string, string) {
	switch t {
	case procgraph.NodeStart:
		return "((", "))"
	case procgraph.NodeDecision:
		return "{", "}"
	case procgraph.NodeEnd:
		return "([", "])"
	case procgraph.NodeSubprocess:
		return "[[", "]]"
	default:
		return "[", "]"
	}
}

// mermaidIDs assigns every node a distinct Mermaid identifier. Ids that sanitize to the same
// identifier get a numeric suffix in model order.
func mermaidIDs(nodes []procgraph.Node) map[string]string {
	out := make(map[string]string, len(nodes))
	taken := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, done := out[n.ID]; done {
			continue
		}
		base := safeID(n.ID)
		id := base
		for i := 2; ; i++ {
			if _, dup := taken[id]; !dup {
				break
			}
			id = fmt.Sprintf("%s_%d", base, i)
		}
		taken[id] = struct{}{}
		out[n.ID] = id
	}
	return out
}

// safeID maps a node id onto Mermaid's identifier alphabet. "end" is a keyword.
func safeID(id string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, id)
	if strings.EqualFold(s, "end") {
		s += "_"
	}
	return s
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
