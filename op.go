package procgraph

import (
	"encoding/json"
	"fmt"
)

// OpKind names an operation type in a batch.
type OpKind string

const (
	OpAddNode           OpKind = "ADD_NODE"
	OpUpdateNode        OpKind = "UPDATE_NODE"
	OpRemoveNode        OpKind = "REMOVE_NODE"
	OpAddEdge           OpKind = "ADD_EDGE"
	OpRemoveEdge        OpKind = "REMOVE_EDGE"
	OpUpdateLayout      OpKind = "UPDATE_LAYOUT"
	OpSetISOField       OpKind = "SET_ISO_FIELD"
	OpReorderNodes      OpKind = "REORDER_NODES"
	OpUpdateProcessMeta OpKind = "UPDATE_PROCESS_META"
)

// Known reports whether k is one of the operation types the interpreter applies.
func (k OpKind) Known() bool {
	_, ok := steps[k]
	return ok
}

// Operation is one edit in a batch. Payload shape depends on Type.
type Operation struct {
	Type    OpKind          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload shapes. Node and edge bodies stay raw so the id resolver can tell a missing id from
// an empty one and rewrite it without losing unknown fields.
type (
	AddNodePayload struct {
		Node json.RawMessage `json:"node"`
	}

	UpdateNodePayload struct {
		NodeID string          `json:"nodeId"`
		Patch  json.RawMessage `json:"patch"`
	}

	RemoveNodePayload struct {
		NodeID string `json:"nodeId"`
	}

	AddEdgePayload struct {
		Edge json.RawMessage `json:"edge"`
	}

	RemoveEdgePayload struct {
		EdgeID string `json:"edgeId"`
	}

	UpdateLayoutPayload struct {
		Positions map[string]Position `json:"positions"`
	}

	SetISOFieldPayload struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}

	ReorderNodesPayload struct {
		OrderedNodeIDs json.RawMessage `json:"orderedNodeIds"`
	}
)

// NewOp builds an operation with payload marshalled to JSON.
func NewOp(kind OpKind, payload any) (Operation, error) {
	if payload == nil {
		return Operation{Type: kind}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("procgraph: marshal %s payload: %w", kind, err)
	}
	return Operation{Type: kind, Payload: b}, nil
}

func mustOp(kind OpKind, payload any) Operation {
	op, err := NewOp(kind, payload)
	if err != nil {
		panic(err)
	}
	return op
}

// AddNode returns an ADD_NODE operation for n.
func AddNode(n Node) Operation {
	return mustOp(OpAddNode, map[string]any{"node": n})
}

// UpdateNode returns an UPDATE_NODE operation merging patch into node id.
func UpdateNode(id string, patch map[string]any) Operation {
	return mustOp(OpUpdateNode, map[string]any{"nodeId": id, "patch": patch})
}

// RemoveNode returns a REMOVE_NODE operation.
func RemoveNode(id string) Operation {
	return mustOp(OpRemoveNode, RemoveNodePayload{NodeID: id})
}

// AddEdge returns an ADD_EDGE operation for e.
func AddEdge(e Edge) Operation {
	return mustOp(OpAddEdge, map[string]any{"edge": e})
}

// RemoveEdge returns a REMOVE_EDGE operation.
func RemoveEdge(id string) Operation {
	return mustOp(OpRemoveEdge, RemoveEdgePayload{EdgeID: id})
}

// UpdateLayout returns an UPDATE_LAYOUT operation.
func UpdateLayout(positions map[string]Position) Operation {
	return mustOp(OpUpdateLayout, UpdateLayoutPayload{Positions: positions})
}

// SetISOField returns a SET_ISO_FIELD operation.
func SetISOField(field string, value any) Operation {
	return mustOp(OpSetISOField, SetISOFieldPayload{Field: field, Value: value})
}

// ReorderNodes returns a REORDER_NODES operation.
func ReorderNodes(ids ...string) Operation {
	if ids == nil {
		ids = []string{}
	}
	return mustOp(OpReorderNodes, map[string]any{"orderedNodeIds": ids})
}

// UpdateProcessMeta returns an UPDATE_PROCESS_META operation.
func UpdateProcessMeta(p MetaPatch) Operation {
	return mustOp(OpUpdateProcessMeta, p)
}

// OutcomeStatus says what happened to one operation of a batch.
type OutcomeStatus string

const (
	StatusApplied OutcomeStatus = "applied"
	StatusSkipped OutcomeStatus = "skipped"
	StatusFailed  OutcomeStatus = "failed"
)

// Outcome reports the result of one operation. Skipped operations leave the graph untouched
// but do not fail the batch.
type Outcome struct {
	Index  int           `json:"index"`
	Type   OpKind        `json:"type"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}
