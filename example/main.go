package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/diagram"
	"github.com/meikuraledutech/procgraph/postgres"
)

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	store, err := postgres.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer store.Close()

	// 1. Create tables
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}
	fmt.Println("schema created")

	engine := procgraph.New(store, procgraph.WithMetaStore(store))

	// ── Revision 0: a bare start node ─────────────────────────────────
	created, err := engine.Create(ctx, &procgraph.ProcessVersion{
		ProcessID:     "onboarding",
		VersionNumber: 1,
		Model: procgraph.Graph{
			Nodes: []procgraph.Node{{ID: "start", Type: procgraph.NodeStart, Title: "Contract signed"}},
		},
		Layout: procgraph.Layout{Positions: map[string]procgraph.Position{"start": {X: 50, Y: 150}}},
	})
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	fmt.Printf("version created: %s rev %d\n", created.Key(), created.Revision)

	// ── One batch: nodes reference each other by client ids ───────────
	result, err := engine.ApplyOps(ctx, procgraph.ApplyRequest{
		ProcessID:        "onboarding",
		Version:          1,
		ExpectedRevision: created.Revision,
		ActorID:          "example",
		Ops: []procgraph.Operation{
			procgraph.AddNode(procgraph.Node{ID: "accounts", Title: "Create accounts", Checklist: []string{"Mail", "VPN"}}),
			procgraph.AddNode(procgraph.Node{ID: "hardware", Type: procgraph.NodeDecision, Title: "Laptop needed?"}),
			procgraph.AddNode(procgraph.Node{ID: "done", Type: procgraph.NodeEnd, Title: "Ready to work"}),
			procgraph.AddEdge(procgraph.Edge{ID: "e1", Source: "start", Target: "accounts"}),
			procgraph.AddEdge(procgraph.Edge{ID: "e2", Source: "accounts", Target: "hardware"}),
			procgraph.AddEdge(procgraph.Edge{ID: "e3", Source: "hardware", Target: "done", Label: "no"}),
			procgraph.SetISOField("owner", "people-ops"),
			procgraph.UpdateProcessMeta(procgraph.MetaPatch{Title: ptr("Employee onboarding")}),
		},
	})
	if err != nil {
		log.Fatalf("apply: %v", err)
	}
	fmt.Println("\nbatch applied:")
	printJSON(result)

	// ── Retrieve ──────────────────────────────────────────────────────
	v, err := engine.Get(ctx, created.Key())
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	fmt.Printf("\nrevision %d diagram:\n%s", v.Revision, diagram.Mermaid(v.Model, v.Layout))

	// ── A stale batch is rejected ─────────────────────────────────────
	_, err = engine.ApplyOps(ctx, procgraph.ApplyRequest{
		ProcessID:        "onboarding",
		Version:          1,
		ExpectedRevision: created.Revision,
		Ops:              []procgraph.Operation{procgraph.RemoveNode("hardware")},
	})
	fmt.Printf("\nstale batch: conflict=%t (%v)\n", procgraph.IsConflict(err), err)

	// ── Cleanup ───────────────────────────────────────────────────────
	if err := store.DropSchema(ctx); err != nil {
		log.Fatalf("drop: %v", err)
	}
	fmt.Println("\nschema dropped")
}

func ptr(s string) *string { return &s }

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
