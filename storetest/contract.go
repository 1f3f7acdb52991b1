// Package storetest holds the behaviour every procgraph store adapter must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/procgraph"
)

// Store is a version store that also keeps process metadata.
type Store interface {
	procgraph.VersionStore
	procgraph.MetaStore
}

var seq atomic.Int64

// uniqueID returns a process id no earlier subtest used, so the suite can run against a
// shared database.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// Fixture returns a revision 0 version with a start -> step -> end chain.
func Fixture(processID string) *procgraph.ProcessVersion {
	return &procgraph.ProcessVersion{
		ID:            "pv-" + processID,
		ProcessID:     processID,
		VersionNumber: 1,
		Revision:      0,
		Model: procgraph.Graph{
			Nodes: []procgraph.Node{
				{ID: "start", Type: procgraph.NodeStart, Title: "Start", Checklist: []string{}},
				{ID: "review", Type: procgraph.NodeStep, Title: "Review", RoleID: "role-qa", Checklist: []string{"check totals"}},
				{ID: "end", Type: procgraph.NodeEnd, Title: "Done", Checklist: []string{}},
			},
			Edges: []procgraph.Edge{
				{ID: "e1", Source: "start", Target: "review"},
				{ID: "e2", Source: "review", Target: "end", Label: "ok"},
			},
			ISOFields: map[string]any{"owner": "finance"},
		},
		Layout: procgraph.Layout{Positions: map[string]procgraph.Position{
			"start":  {X: 50, Y: 150},
			"review": {X: 270, Y: 150},
			"end":    {X: 490, Y: 150},
		}},
		UpdatedBy: "alice",
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// RunStoreContract verifies that store honours the VersionStore and MetaStore contracts.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		v := Fixture(uniqueID("create"))
		require.NoError(t, store.Create(ctx, v))

		got, err := store.Get(ctx, v.Key())
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, int64(0), got.Revision)
		assert.Equal(t, v.Model, got.Model)
		assert.Equal(t, v.Layout, got.Layout)
		assert.Equal(t, "alice", got.UpdatedBy)
		assert.True(t, v.UpdatedAt.Equal(got.UpdatedAt), "updatedAt %v != %v", v.UpdatedAt, got.UpdatedAt)
	})

	t.Run("Create Duplicate", func(t *testing.T) {
		v := Fixture(uniqueID("dup"))
		require.NoError(t, store.Create(ctx, v))
		err := store.Create(ctx, v)
		assert.ErrorIs(t, err, procgraph.ErrAlreadyExists)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, procgraph.VersionKey{ProcessID: uniqueID("missing"), Version: 1})
		assert.ErrorIs(t, err, procgraph.ErrNotFound)
	})

	t.Run("Versions Are Independent", func(t *testing.T) {
		v1 := Fixture(uniqueID("lines"))
		v2 := Fixture(v1.ProcessID)
		v2.ID = v1.ID + "-2"
		v2.VersionNumber = 2
		v2.Model.Nodes = v2.Model.Nodes[:1]
		v2.Model.Edges = []procgraph.Edge{}
		require.NoError(t, store.Create(ctx, v1))
		require.NoError(t, store.Create(ctx, v2))

		got, err := store.Get(ctx, v2.Key())
		require.NoError(t, err)
		assert.Len(t, got.Model.Nodes, 1)

		got, err = store.Get(ctx, v1.Key())
		require.NoError(t, err)
		assert.Len(t, got.Model.Nodes, 3)
	})

	t.Run("Put Advances Revision", func(t *testing.T) {
		v := Fixture(uniqueID("put"))
		require.NoError(t, store.Create(ctx, v))

		next := v.Clone()
		next.Revision = 1
		next.Model.Nodes[1].Title = "Review invoice"
		next.UpdatedBy = "bob"
		require.NoError(t, store.Put(ctx, next, 0))

		got, err := store.Get(ctx, v.Key())
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Revision)
		assert.Equal(t, "Review invoice", got.Model.Nodes[1].Title)
		assert.Equal(t, "bob", got.UpdatedBy)
	})

	t.Run("Put Stale Revision", func(t *testing.T) {
		v := Fixture(uniqueID("stale"))
		require.NoError(t, store.Create(ctx, v))

		next := v.Clone()
		next.Revision = 1
		require.NoError(t, store.Put(ctx, next, 0))

		again := v.Clone()
		again.Revision = 1
		again.Model.Nodes[0].Title = "lost update"
		err := store.Put(ctx, again, 0)
		assert.ErrorIs(t, err, procgraph.ErrConflict)

		got, err := store.Get(ctx, v.Key())
		require.NoError(t, err)
		assert.Equal(t, "Start", got.Model.Nodes[0].Title)
	})

	t.Run("Put Non-Existent", func(t *testing.T) {
		v := Fixture(uniqueID("ghost"))
		v.Revision = 1
		err := store.Put(ctx, v, 0)
		assert.ErrorIs(t, err, procgraph.ErrNotFound)
	})

	t.Run("Concurrent Put Has One Winner", func(t *testing.T) {
		v := Fixture(uniqueID("race"))
		require.NoError(t, store.Create(ctx, v))

		const writers = 8
		var (
			wg        sync.WaitGroup
			wins      atomic.Int32
			conflicts atomic.Int32
		)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := v.Clone()
				next.Revision = 1
				next.UpdatedBy = fmt.Sprintf("writer-%d", i)
				err := store.Put(ctx, next, 0)
				switch {
				case err == nil:
					wins.Add(1)
				case procgraph.IsConflict(err):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())
	})

	t.Run("Meta", func(t *testing.T) {
		id := uniqueID("meta")

		_, err := store.GetMeta(ctx, id)
		assert.ErrorIs(t, err, procgraph.ErrNotFound)

		title, status := "Invoice approval", "draft"
		m, err := store.UpdateMeta(ctx, id, procgraph.MetaPatch{Title: &title, Status: &status})
		require.NoError(t, err)
		assert.Equal(t, id, m.ProcessID)
		assert.Equal(t, title, m.Title)

		published := "published"
		_, err = store.UpdateMeta(ctx, id, procgraph.MetaPatch{Status: &published})
		require.NoError(t, err)

		got, err := store.GetMeta(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, title, got.Title)
		assert.Equal(t, published, got.Status)
		assert.Empty(t, got.Description)
		assert.False(t, got.UpdatedAt.IsZero())
	})
}
