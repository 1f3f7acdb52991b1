package procgraph

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IDSource mints identifiers for nodes and edges that arrive without a usable id.
type IDSource interface {
	NewID(prefix string) string
}

// UUIDSource mints "<prefix>-<uuid>" identifiers.
type UUIDSource struct{}

// NewID implements IDSource.
func (UUIDSource) NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// SequenceSource mints "<prefix>-1", "<prefix>-2", ... with one counter per prefix.
// Safe for concurrent use.
type SequenceSource struct {
	mu   sync.Mutex
	next map[string]int
}

// NewSequenceSource returns a SequenceSource whose first id for any prefix ends in 1.
func NewSequenceSource() *SequenceSource {
	return &SequenceSource{next: make(map[string]int)}
}

// NewID implements IDSource.
func (s *SequenceSource) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[prefix]++
	return fmt.Sprintf("%s-%d", prefix, s.next[prefix])
}

// Remap holds the original -> final id tables built by the resolver.
type Remap struct {
	Nodes map[string]string
	Edges map[string]string
}

// Node returns the final id for a node reference.
func (r Remap) Node(id string) string {
	if final, ok := r.Nodes[id]; ok {
		return final
	}
	return id
}

// Edge returns the final id for an edge reference.
func (r Remap) Edge(id string) string {
	if final, ok := r.Edges[id]; ok {
		return final
	}
	return id
}

// mintRetries bounds how often a taken minted id is replaced by a fresh one before the
// resolver falls back to a numeric suffix.
const mintRetries = 100

type idSet map[string]struct{}

// mint asks src for ids until one is unused and reserves it.
func (s idSet) mint(src IDSource, prefix string) string {
	id := src.NewID(prefix)
	for range mintRetries {
		if _, taken := s[id]; !taken {
			break
		}
		id = src.NewID(prefix)
	}
	return s.claim(id)
}

// claim reserves id, appending -1, -2, ... until it no longer collides.
func (s idSet) claim(id string) string {
	final := id
	for n := 1; ; n++ {
		if _, taken := s[final]; !taken {
			break
		}
		final = fmt.Sprintf("%s-%d", id, n)
	}
	s[final] = struct{}{}
	return final
}

// callerID extracts a usable caller-supplied id. Missing, non-string, empty and the
// placeholder strings that buggy clients send are all unusable.
func callerID(raw json.RawMessage, present bool) (string, bool) {
	if !present {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false
	}
	trimmed := strings.TrimSpace(id)
	switch trimmed {
	case "", "undefined", "null", "[object Object]":
		return "", false
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	return id, true
}

// resolveIDs rewrites every ADD_NODE and ADD_EDGE of the batch so that its id collides neither
// with the stored graph nor with an earlier addition in the same batch. It returns the
// rewritten copy of ops and the remap tables that later operations are interpreted through.
// Payloads the resolver cannot read are passed through for the interpreter to skip.
func resolveIDs(g Graph, ops []Operation, src IDSource) ([]Operation, Remap, error) {
	used := make(idSet, len(g.Nodes)+len(g.Edges))
	for _, n := range g.Nodes {
		used[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		used[e.ID] = struct{}{}
	}

	remap := Remap{Nodes: map[string]string{}, Edges: map[string]string{}}
	out := make([]Operation, len(ops))
	copy(out, ops)

	for i, op := range out {
		var (
			field  string
			prefix string
			table  map[string]string
		)
		switch op.Type {
		case OpAddNode:
			field, prefix, table = "node", "node", remap.Nodes
		case OpAddEdge:
			field, prefix, table = "edge", "edge", remap.Edges
		default:
			continue
		}

		var payload map[string]json.RawMessage
		if err := json.Unmarshal(op.Payload, &payload); err != nil || payload == nil {
			continue
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(payload[field], &body); err != nil || body == nil {
			continue
		}

		raw, present := body["id"]
		original, real := callerID(raw, present)

		var final string
		if real {
			final = used.claim(original)
			table[original] = final
		} else {
			final = used.mint(src, prefix)
		}

		idJSON, err := json.Marshal(final)
		if err != nil {
			return nil, Remap{}, fmt.Errorf("procgraph: encode id: %w", err)
		}
		body["id"] = idJSON
		if payload[field], err = json.Marshal(body); err != nil {
			return nil, Remap{}, fmt.Errorf("procgraph: encode %s: %w", field, err)
		}
		if out[i].Payload, err = json.Marshal(payload); err != nil {
			return nil, Remap{}, fmt.Errorf("procgraph: encode %s payload: %w", op.Type, err)
		}
	}

	return out, remap, nil
}
