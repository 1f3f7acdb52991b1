// Package importer loads process definitions from YAML and turns them into an initial version.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/meikuraledutech/procgraph"
)

// Definition is a process as written in a YAML file.
type Definition struct {
	ProcessID   string         `mapstructure:"processId"`
	Version     int            `mapstructure:"version"`
	Title       string         `mapstructure:"title"`
	Status      string         `mapstructure:"status"`
	Description string         `mapstructure:"description"`
	ISOFields   map[string]any `mapstructure:"isoFields"`
	Nodes       []NodeDef      `mapstructure:"nodes"`
	Edges       []EdgeDef      `mapstructure:"edges"`
}

// NodeDef is one node of a Definition. Position is optional.
type NodeDef struct {
	ID              string       `mapstructure:"id"`
	Type            string       `mapstructure:"type"`
	Title           string       `mapstructure:"title"`
	RoleID          string       `mapstructure:"roleId"`
	Description     string       `mapstructure:"description"`
	Checklist       []string     `mapstructure:"checklist"`
	Tips            string       `mapstructure:"tips"`
	Errors          string       `mapstructure:"errors"`
	TargetProcessID string       `mapstructure:"targetProcessId"`
	ResourceIDs     []string     `mapstructure:"resourceIds"`
	DataCategoryIDs []string     `mapstructure:"dataCategoryIds"`
	SubjectGroupIDs []string     `mapstructure:"subjectGroupIds"`
	Position        *PositionDef `mapstructure:"position"`
}

// PositionDef is a canvas position.
type PositionDef struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
}

// EdgeDef is one edge of a Definition. Source and Target name node ids of the same file.
type EdgeDef struct {
	ID     string `mapstructure:"id"`
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
	Label  string `mapstructure:"label"`
}

// Parse reads one YAML definition. Unknown keys are rejected.
func Parse(r io.Reader) (*Definition, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("importer: empty document")
		}
		return nil, fmt.Errorf("importer: parse yaml: %w", err)
	}

	var def Definition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &def,
	})
	if err != nil {
		return nil, fmt.Errorf("importer: decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("importer: decode definition: %w", err)
	}

	if def.ProcessID == "" {
		return nil, errors.New("importer: processId is required")
	}
	if def.Version == 0 {
		def.Version = 1
	}
	return &def, nil
}

// LoadFile parses the definition at path.
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Key returns the version the definition describes.
func (d *Definition) Key() procgraph.VersionKey {
	return procgraph.VersionKey{ProcessID: d.ProcessID, Version: d.Version}
}

// Ops returns the batch that builds the definition on an empty graph. Explicit positions
// are sent ahead of the nodes so they are not auto-placed.
func (d *Definition) Ops() []procgraph.Operation {
	var ops []procgraph.Operation

	positions := map[string]procgraph.Position{}
	for _, n := range d.Nodes {
		if n.Position != nil && n.ID != "" {
			positions[n.ID] = procgraph.Position{X: n.Position.X, Y: n.Position.Y}
		}
	}
	if len(positions) > 0 {
		ops = append(ops, procgraph.UpdateLayout(positions))
	}

	for _, n := range d.Nodes {
		ops = append(ops, procgraph.AddNode(procgraph.Node{
			ID:              n.ID,
			Type:            procgraph.NodeType(n.Type),
			Title:           n.Title,
			RoleID:          n.RoleID,
			Description:     n.Description,
			Checklist:       n.Checklist,
			Tips:            n.Tips,
			Errors:          n.Errors,
			TargetProcessID: n.TargetProcessID,
			ResourceIDs:     n.ResourceIDs,
			DataCategoryIDs: n.DataCategoryIDs,
			SubjectGroupIDs: n.SubjectGroupIDs,
		}))
	}
	for _, e := range d.Edges {
		ops = append(ops, procgraph.AddEdge(procgraph.Edge{ID: e.ID, Source: e.Source, Target: e.Target, Label: e.Label}))
	}

	for _, field := range slices.Sorted(maps.Keys(d.ISOFields)) {
		ops = append(ops, procgraph.SetISOField(field, d.ISOFields[field]))
	}

	var meta procgraph.MetaPatch
	if d.Title != "" {
		meta.Title = &d.Title
	}
	if d.Status != "" {
		meta.Status = &d.Status
	}
	if d.Description != "" {
		meta.Description = &d.Description
	}
	if !meta.Empty() {
		ops = append(ops, procgraph.UpdateProcessMeta(meta))
	}
	return ops
}

// Import creates an empty revision 0 for the definition and applies Ops as its first batch.
// The returned result carries one outcome per generated operation.
func Import(ctx context.Context, e *procgraph.Engine, d *Definition, actorID string) (*procgraph.ApplyResult, error) {
	created, err := e.Create(ctx, &procgraph.ProcessVersion{
		ProcessID:     d.ProcessID,
		VersionNumber: d.Version,
		Model:         procgraph.Graph{Nodes: []procgraph.Node{}, Edges: []procgraph.Edge{}},
		UpdatedBy:     actorID,
	})
	if err != nil {
		return nil, err
	}

	return e.ApplyOps(ctx, procgraph.ApplyRequest{
		ProcessID:        d.ProcessID,
		Version:          d.Version,
		Ops:              d.Ops(),
		ExpectedRevision: created.Revision,
		ActorID:          actorID,
	})
}
