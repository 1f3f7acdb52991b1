package procgraph

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// NodeType is the closed set of step kinds a process graph may contain.
type NodeType string

const (
	NodeStart      NodeType = "start"
	NodeStep       NodeType = "step"
	NodeDecision   NodeType = "decision"
	NodeEnd        NodeType = "end"
	NodeSubprocess NodeType = "subprocess"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeStart, NodeStep, NodeDecision, NodeEnd, NodeSubprocess:
		return true
	}
	return false
}

// LinksProcess reports whether nodes of this type may point at another process.
func (t NodeType) LinksProcess() bool {
	return t == NodeEnd || t == NodeSubprocess
}

// UnmarshalJSON rejects unknown node types. An empty string decodes as NodeStep.
func (t *NodeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("procgraph: node type must be a string: %w", err)
	}
	if s == "" {
		*t = NodeStep
		return nil
	}
	nt := NodeType(s)
	if !nt.Valid() {
		return fmt.Errorf("procgraph: unknown node type %q", s)
	}
	*t = nt
	return nil
}

// Node is one step in a process.
// ResourceIDs, DataCategoryIDs and SubjectGroupIDs point into external catalogs and are
// carried through untouched.
type Node struct {
	ID              string   `json:"id"`
	Type            NodeType `json:"type"`
	Title           string   `json:"title"`
	RoleID          string   `json:"roleId,omitempty"`
	Description     string   `json:"description,omitempty"`
	Checklist       []string `json:"checklist"`
	Tips            string   `json:"tips,omitempty"`
	Errors          string   `json:"errors,omitempty"`
	TargetProcessID string   `json:"targetProcessId,omitempty"`
	ResourceIDs     []string `json:"resourceIds,omitempty"`
	DataCategoryIDs []string `json:"dataCategoryIds,omitempty"`
	SubjectGroupIDs []string `json:"subjectGroupIds,omitempty"`
}

func (n Node) clone() Node {
	n.Checklist = slices.Clone(n.Checklist)
	n.ResourceIDs = slices.Clone(n.ResourceIDs)
	n.DataCategoryIDs = slices.Clone(n.DataCategoryIDs)
	n.SubjectGroupIDs = slices.Clone(n.SubjectGroupIDs)
	return n
}

// Edge is a directed transition between two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Graph is the node/edge structure of one process version.
// ISOFields holds free-form compliance metadata that is not part of the structure.
type Graph struct {
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	ISOFields map[string]any `json:"isoFields,omitempty"`
}

// Clone returns a deep copy of g. ISO field values are copied shallowly.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: slices.Clone(g.Edges),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.clone()
	}
	if out.Edges == nil {
		out.Edges = []Edge{}
	}
	if g.ISOFields != nil {
		out.ISOFields = maps.Clone(g.ISOFields)
	}
	return out
}

// NodeIndex returns the position of the node with the given id, or -1.
func (g Graph) NodeIndex(id string) int {
	return slices.IndexFunc(g.Nodes, func(n Node) bool { return n.ID == id })
}

// HasNode reports whether a node with the given id exists.
func (g Graph) HasNode(id string) bool {
	return g.NodeIndex(id) >= 0
}

// EdgeIndex returns the position of the edge with the given id, or -1.
func (g Graph) EdgeIndex(id string) int {
	return slices.IndexFunc(g.Edges, func(e Edge) bool { return e.ID == id })
}

// Validate checks the structural invariants: unique node ids, unique edge ids, known node
// types and no dangling edge endpoints.
func (g Graph) Validate() error {
	nodes := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return &IntegrityError{Reason: "node with empty id"}
		}
		if _, dup := nodes[n.ID]; dup {
			return &IntegrityError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		if !n.Type.Valid() {
			return &IntegrityError{Reason: fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type)}
		}
		nodes[n.ID] = struct{}{}
	}

	edges := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if _, dup := edges[e.ID]; dup {
			return &IntegrityError{Reason: fmt.Sprintf("duplicate edge id %q", e.ID)}
		}
		edges[e.ID] = struct{}{}
		if _, ok := nodes[e.Source]; !ok {
			return &IntegrityError{Reason: fmt.Sprintf("edge %q has dangling source %q", e.ID, e.Source)}
		}
		if _, ok := nodes[e.Target]; !ok {
			return &IntegrityError{Reason: fmt.Sprintf("edge %q has dangling target %q", e.ID, e.Target)}
		}
	}
	return nil
}

// Position is a node's location on the diagram canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout maps node ids to canvas positions.
type Layout struct {
	Positions map[string]Position `json:"positions"`
}

// Clone returns a deep copy of l.
func (l Layout) Clone() Layout {
	if l.Positions == nil {
		return Layout{Positions: map[string]Position{}}
	}
	return Layout{Positions: maps.Clone(l.Positions)}
}

// Prune drops positions whose key is not a node of g.
func (l Layout) Prune(g Graph) Layout {
	out := Layout{Positions: make(map[string]Position, len(l.Positions))}
	for id, p := range l.Positions {
		if g.HasNode(id) {
			out.Positions[id] = p
		}
	}
	return out
}

// VersionKey addresses one release line of a process.
type VersionKey struct {
	ProcessID string `json:"processId"`
	Version   int    `json:"versionNumber"`
}

func (k VersionKey) String() string {
	return fmt.Sprintf("%s@v%d", k.ProcessID, k.Version)
}

// ProcessVersion is the persisted document for one release line of a process.
// Revision counts applied operation batches; VersionNumber only changes through a
// separate release flow.
type ProcessVersion struct {
	ID            string    `json:"id"`
	ProcessID     string    `json:"processId"`
	VersionNumber int       `json:"versionNumber"`
	Revision      int64     `json:"revision"`
	Model         Graph     `json:"model"`
	Layout        Layout    `json:"layout"`
	UpdatedBy     string    `json:"updatedBy,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Key returns the version key of v.
func (v *ProcessVersion) Key() VersionKey {
	return VersionKey{ProcessID: v.ProcessID, Version: v.VersionNumber}
}

// Clone returns a deep copy of v.
func (v *ProcessVersion) Clone() *ProcessVersion {
	out := *v
	out.Model = v.Model.Clone()
	out.Layout = v.Layout.Clone()
	return &out
}

// ProcessMeta is the descriptive record of a process, kept outside the version documents.
type ProcessMeta struct {
	ProcessID   string    `json:"processId"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MetaPatch carries the fields of an UPDATE_PROCESS_META operation. Nil fields are left as is.
type MetaPatch struct {
	Title       *string `json:"title,omitempty"`
	Status      *string `json:"status,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether the patch sets no field.
func (p MetaPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.Description == nil
}

// Apply returns m with the patch fields written over it.
func (p MetaPatch) Apply(m ProcessMeta) ProcessMeta {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	return m
}
