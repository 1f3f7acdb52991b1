package procgraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var errNoPayload = errors.New("missing payload")

// State is the working copy a batch is folded over.
type State struct {
	Model  Graph
	Layout Layout
	// Meta holds UPDATE_PROCESS_META patches, in batch order, for the metadata store.
	Meta []QueuedMeta
}

// QueuedMeta is a metadata patch together with the index of the operation that produced it.
type QueuedMeta struct {
	Index int
	Patch MetaPatch
}

// step applies one operation. It must not modify s; an empty reason means applied.
type step func(s State, op Operation, r Remap) (State, string)

var steps = map[OpKind]step{
	OpAddNode:           addNode,
	OpUpdateNode:        updateNode,
	OpRemoveNode:        removeNode,
	OpAddEdge:           addEdge,
	OpRemoveEdge:        removeEdge,
	OpUpdateLayout:      updateLayout,
	OpSetISOField:       setISOField,
	OpReorderNodes:      reorderNodes,
	OpUpdateProcessMeta: updateProcessMeta,
}

// Interpret folds ops over a deep copy of s in order and reports one outcome per operation.
// Operations that cannot apply are skipped without affecting the rest of the batch. Layout
// entries left without a node are dropped from the result.
func Interpret(s State, ops []Operation, r Remap) (State, []Outcome) {
	cur := State{Model: s.Model.Clone(), Layout: s.Layout.Clone(), Meta: slices.Clone(s.Meta)}
	outcomes := make([]Outcome, 0, len(ops))

	for i, op := range ops {
		out := Outcome{Index: i, Type: op.Type, Status: StatusApplied}
		fn, ok := steps[op.Type]
		if !ok {
			out.Status, out.Reason = StatusSkipped, "unknown operation type"
			outcomes = append(outcomes, out)
			continue
		}
		next, reason := fn(cur, op, r)
		if reason != "" {
			out.Status, out.Reason = StatusSkipped, reason
		} else {
			if op.Type == OpUpdateProcessMeta {
				next.Meta[len(next.Meta)-1].Index = i
			}
			cur = next
		}
		outcomes = append(outcomes, out)
	}

	cur.Layout = cur.Layout.Prune(cur.Model)
	return cur, outcomes
}

func decode(raw json.RawMessage, v any) error {
	if isNull(raw) {
		return errNoPayload
	}
	return json.Unmarshal(raw, v)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// findNode resolves a node reference through the remap table, falling back to the raw id.
func findNode(g Graph, r Remap, ref string) int {
	if i := g.NodeIndex(r.Node(ref)); i >= 0 {
		return i
	}
	return g.NodeIndex(ref)
}

func withPosition(l Layout, id string, p Position) Layout {
	positions := maps.Clone(l.Positions)
	if positions == nil {
		positions = map[string]Position{}
	}
	positions[id] = p
	return Layout{Positions: positions}
}

func withoutPositions(l Layout, ids ...string) Layout {
	positions := maps.Clone(l.Positions)
	for _, id := range ids {
		delete(positions, id)
	}
	return Layout{Positions: positions}
}

// withoutNodeEdges drops every edge touching one of the given node ids.
func withoutNodeEdges(edges []Edge, ids ...string) []Edge {
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		_, src := gone[e.Source]
		_, dst := gone[e.Target]
		if !src && !dst {
			out = append(out, e)
		}
	}
	return out
}

func addNode(s State, op Operation, _ Remap) (State, string) {
	var p AddNodePayload
	if err := decode(op.Payload, &p); err != nil || isNull(p.Node) {
		return s, "missing node"
	}
	var n Node
	if err := json.Unmarshal(p.Node, &n); err != nil {
		return s, fmt.Sprintf("invalid node: %v", err)
	}
	if n.ID == "" {
		return s, "node has no id"
	}
	if s.Model.HasNode(n.ID) {
		return s, fmt.Sprintf("node %q already exists", n.ID)
	}
	if n.Type == "" {
		n.Type = NodeStep
	}
	if n.Checklist == nil {
		n.Checklist = []string{}
	}

	s.Model.Nodes = append(slices.Clone(s.Model.Nodes), n)
	if _, placed := s.Layout.Positions[n.ID]; !placed {
		s.Layout = withPosition(s.Layout, n.ID, autoPlace(s.Model, s.Layout))
	}
	return s, ""
}

func updateNode(s State, op Operation, r Remap) (State, string) {
	var p UpdateNodePayload
	if err := decode(op.Payload, &p); err != nil || p.NodeID == "" {
		return s, "missing nodeId"
	}
	i := findNode(s.Model, r, p.NodeID)
	if i < 0 {
		return s, fmt.Sprintf("node %q not found", p.NodeID)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(p.Patch, &patch); err != nil || patch == nil {
		return s, "patch must be an object"
	}
	// Ids are immutable; renaming would orphan edges and layout entries.
	delete(patch, "id")

	current := s.Model.Nodes[i]
	base, err := json.Marshal(current)
	if err != nil {
		return s, fmt.Sprintf("encode node: %v", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return s, fmt.Sprintf("decode node: %v", err)
	}
	maps.Copy(merged, patch)
	body, err := json.Marshal(merged)
	if err != nil {
		return s, fmt.Sprintf("encode patch: %v", err)
	}
	var updated Node
	if err := json.Unmarshal(body, &updated); err != nil {
		return s, fmt.Sprintf("invalid patch: %v", err)
	}
	updated.ID = current.ID
	if updated.Checklist == nil {
		updated.Checklist = []string{}
	}

	nodes := slices.Clone(s.Model.Nodes)
	nodes[i] = updated
	s.Model.Nodes = nodes
	return s, ""
}

func removeNode(s State, op Operation, r Remap) (State, string) {
	var p RemoveNodePayload
	if err := decode(op.Payload, &p); err != nil || p.NodeID == "" {
		return s, "missing nodeId"
	}
	i := findNode(s.Model, r, p.NodeID)
	if i < 0 {
		return s, fmt.Sprintf("node %q not found", p.NodeID)
	}
	id := s.Model.Nodes[i].ID

	s.Model.Nodes = slices.Delete(slices.Clone(s.Model.Nodes), i, i+1)
	s.Model.Edges = withoutNodeEdges(s.Model.Edges, id)
	s.Layout = withoutPositions(s.Layout, id)
	return s, ""
}

func addEdge(s State, op Operation, r Remap) (State, string) {
	var p AddEdgePayload
	if err := decode(op.Payload, &p); err != nil || isNull(p.Edge) {
		return s, "missing edge"
	}
	var e Edge
	if err := json.Unmarshal(p.Edge, &e); err != nil {
		return s, fmt.Sprintf("invalid edge: %v", err)
	}
	if e.ID == "" {
		return s, "edge has no id"
	}
	if s.Model.EdgeIndex(e.ID) >= 0 {
		return s, fmt.Sprintf("edge %q already exists", e.ID)
	}

	e.Source = r.Node(e.Source)
	e.Target = r.Node(e.Target)
	if !s.Model.HasNode(e.Source) {
		return s, fmt.Sprintf("source %q does not resolve to a node", e.Source)
	}
	if !s.Model.HasNode(e.Target) {
		return s, fmt.Sprintf("target %q does not resolve to a node", e.Target)
	}

	s.Model.Edges = append(slices.Clone(s.Model.Edges), e)
	return s, ""
}

func removeEdge(s State, op Operation, r Remap) (State, string) {
	var p RemoveEdgePayload
	if err := decode(op.Payload, &p); err != nil || p.EdgeID == "" {
		return s, "missing edgeId"
	}
	i := s.Model.EdgeIndex(r.Edge(p.EdgeID))
	if i < 0 {
		i = s.Model.EdgeIndex(p.EdgeID)
	}
	if i < 0 {
		return s, fmt.Sprintf("edge %q not found", p.EdgeID)
	}

	s.Model.Edges = slices.Delete(slices.Clone(s.Model.Edges), i, i+1)
	return s, ""
}

// updateLayout merges positions. Keys may name nodes added later in the batch; whatever still
// names no node once the batch is folded is pruned by Interpret.
func updateLayout(s State, op Operation, r Remap) (State, string) {
	var p UpdateLayoutPayload
	if err := decode(op.Payload, &p); err != nil || p.Positions == nil {
		return s, "missing positions"
	}
	positions := maps.Clone(s.Layout.Positions)
	if positions == nil {
		positions = make(map[string]Position, len(p.Positions))
	}
	for id, pos := range p.Positions {
		positions[r.Node(id)] = pos
	}
	s.Layout = Layout{Positions: positions}
	return s, ""
}

func setISOField(s State, op Operation, _ Remap) (State, string) {
	var p SetISOFieldPayload
	if err := decode(op.Payload, &p); err != nil || p.Field == "" {
		return s, "missing field"
	}
	fields := maps.Clone(s.Model.ISOFields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields[p.Field] = p.Value
	s.Model.ISOFields = fields
	return s, ""
}

// reorderNodes rebuilds the node list in the given order. Nodes left out are removed along
// with their edges and positions.
func reorderNodes(s State, op Operation, r Remap) (State, string) {
	var p ReorderNodesPayload
	if err := decode(op.Payload, &p); err != nil {
		return s, "orderedNodeIds must be an array"
	}
	var ids []string
	if isNull(p.OrderedNodeIDs) || json.Unmarshal(p.OrderedNodeIDs, &ids) != nil {
		return s, "orderedNodeIds must be an array"
	}

	nodes := make([]Node, 0, len(ids))
	kept := make(map[string]struct{}, len(ids))
	for _, ref := range ids {
		i := findNode(s.Model, r, ref)
		if i < 0 {
			continue
		}
		n := s.Model.Nodes[i]
		if _, dup := kept[n.ID]; dup {
			continue
		}
		kept[n.ID] = struct{}{}
		nodes = append(nodes, n)
	}

	var dropped []string
	for _, n := range s.Model.Nodes {
		if _, ok := kept[n.ID]; !ok {
			dropped = append(dropped, n.ID)
		}
	}

	s.Model.Nodes = nodes
	if len(dropped) > 0 {
		s.Model.Edges = withoutNodeEdges(s.Model.Edges, dropped...)
		s.Layout = withoutPositions(s.Layout, dropped...)
	}
	return s, ""
}

func updateProcessMeta(s State, op Operation, _ Remap) (State, string) {
	var p MetaPatch
	if err := decode(op.Payload, &p); err != nil {
		return s, "missing payload"
	}
	if p.Empty() {
		return s, "no metadata field to update"
	}
	s.Meta = append(slices.Clone(s.Meta), QueuedMeta{Patch: p})
	return s, ""
}
