package procgraph

// Nodes added without a position go on a single row, one column right of the rightmost node.
const (
	placeOriginX = 50
	placeStepX   = 220
	placeRowY    = 150
)

// autoPlace returns the default position for a node added to g. Only positions of nodes in g
// count; layout keys waiting to be pruned are ignored.
func autoPlace(g Graph, l Layout) Position {
	maxX := float64(placeOriginX)
	for _, n := range g.Nodes {
		p, ok := l.Positions[n.ID]
		if ok && p.X > maxX {
			maxX = p.X
		}
	}
	return Position{X: maxX + placeStepX, Y: placeRowY}
}
