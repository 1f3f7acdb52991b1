package procgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoPlace(t *testing.T) {
	tests := []struct {
		name      string
		nodes     []string
		positions map[string]Position
		want      Position
	}{
		{name: "empty layout", positions: nil, want: Position{X: 270, Y: 150}},
		{name: "single node at origin", nodes: []string{"start"}, positions: map[string]Position{"start": {X: 50, Y: 150}}, want: Position{X: 270, Y: 150}},
		{name: "rightmost wins", nodes: []string{"a", "b"}, positions: map[string]Position{"a": {X: 600, Y: 20}, "b": {X: 300, Y: 900}}, want: Position{X: 820, Y: 150}},
		{name: "negative coordinates", nodes: []string{"a"}, positions: map[string]Position{"a": {X: -400, Y: 0}}, want: Position{X: 270, Y: 150}},
		{name: "keys without a node are ignored", nodes: []string{"start"}, positions: map[string]Position{"start": {X: 50, Y: 150}, "ghost": {X: 5000, Y: 0}}, want: Position{X: 270, Y: 150}},
		{name: "node without a position", nodes: []string{"start", "loose"}, positions: map[string]Position{"start": {X: 400, Y: 150}}, want: Position{X: 620, Y: 150}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Graph
			for _, id := range tt.nodes {
				g.Nodes = append(g.Nodes, Node{ID: id, Type: NodeStep})
			}
			assert.Equal(t, tt.want, autoPlace(g, Layout{Positions: tt.positions}))
		})
	}
}
