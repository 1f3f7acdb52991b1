package diagram

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/procgraph"
)

func TestMermaid_Golden(t *testing.T) {
	g := procgraph.Graph{
		Nodes: []procgraph.Node{
			{ID: "start", Type: procgraph.NodeStart, Title: "Start"},
			{ID: "end", Type: procgraph.NodeEnd, Title: "Done"},
			{ID: "review", Type: procgraph.NodeStep, Title: `Review "QA"`},
			{ID: "d1", Type: procgraph.NodeDecision, Title: "Approved?"},
			{ID: "sub", Type: procgraph.NodeSubprocess, Title: "Archive", TargetProcessID: "archive-proc"},
		},
		Edges: []procgraph.Edge{
			{ID: "e1", Source: "start", Target: "review"},
			{ID: "e2", Source: "review", Target: "d1"},
			{ID: "e3", Source: "d1", Target: "end", Label: "Ja"},
			{ID: "e4", Source: "d1", Target: "sub", Label: "Nein"},
		},
	}
	l := procgraph.Layout{Positions: map[string]procgraph.Position{
		"start":  {X: 50, Y: 150},
		"review": {X: 270, Y: 150},
		"d1":     {X: 490, Y: 150},
		"end":    {X: 710, Y: 150},
		"sub":    {X: 710, Y: 300},
	}}

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "invoice_approval", []byte(Mermaid(g, l)))
}

func TestMermaid_UnplacedNodesFollowModelOrder(t *testing.T) {
	g := procgraph.Graph{
		Nodes: []procgraph.Node{
			{ID: "b", Type: procgraph.NodeStep},
			{ID: "a", Type: procgraph.NodeStep},
			{ID: "placed", Type: procgraph.NodeStep},
		},
	}
	l := procgraph.Layout{Positions: map[string]procgraph.Position{"placed": {X: 900, Y: 0}}}

	want := "flowchart LR\n" +
		"    placed[\"placed\"]\n" +
		"    b[\"b\"]\n" +
		"    a[\"a\"]\n"
	assert.Equal(t, want, Mermaid(g, l))
}

func TestSafeID(t *testing.T) {
	assert.Equal(t, "node_1", safeID("node-1"))
	assert.Equal(t, "a_b_c", safeID("a.b/c"))
	assert.Equal(t, "END_", safeID("END"))
	assert.Equal(t, "ending", safeID("ending"))
}

func TestMermaid_IDsDifferingInPunctuation(t *testing.T) {
	g := procgraph.Graph{
		Nodes: []procgraph.Node{
			{ID: "review-1", Type: procgraph.NodeStep, Title: "Review A"},
			{ID: "review_1", Type: procgraph.NodeStep, Title: "Review B"},
			{ID: "end", Type: procgraph.NodeEnd, Title: "Done"},
			{ID: "end_", Type: procgraph.NodeStep, Title: "Other"},
		},
		Edges: []procgraph.Edge{
			{ID: "e1", Source: "review-1", Target: "end"},
			{ID: "e2", Source: "review_1", Target: "end_"},
		},
	}

	want := "flowchart LR\n" +
		"    review_1[\"Review A\"]\n" +
		"    review_1_2[\"Review B\"]\n" +
		"    end_([\"Done\"])\n" +
		"    end__2[\"Other\"]\n" +
		"    review_1 --> end_\n" +
		"    review_1_2 --> end__2\n"
	assert.Equal(t, want, Mermaid(g, procgraph.Layout{}))
}

func TestMermaidIDs_Distinct(t *testing.T) {
	nodes := []procgraph.Node{
		{ID: "a-b"}, {ID: "a_b"}, {ID: "a.b"}, {ID: "a_b_2"}, {ID: "END"}, {ID: "end"},
	}

	ids := mermaidIDs(nodes)
	require.Len(t, ids, len(nodes))

	seen := map[string]string{}
	for orig, id := range ids {
		prev, dup := seen[id]
		assert.False(t, dup, "%q and %q both render as %q", orig, prev, id)
		seen[id] = orig
	}
}

func TestMermaid_Empty(t *testing.T) {
	assert.Equal(t, "flowchart LR\n", Mermaid(procgraph.Graph{}, procgraph.Layout{}))
}
