package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/procgraph/sqlite"
	"github.com/meikuraledutech/procgraph/storetest"
)

func createTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procgraph.db")
	store, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStore_Contract(t *testing.T) {
	store, _ := createTestStore(t)
	storetest.RunStoreContract(t, store)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	store, path := createTestStore(t)

	v := storetest.Fixture("reopen")
	require.NoError(t, store.Create(ctx, v))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.Equal(t, v.Model, got.Model)
	assert.Equal(t, v.Layout, got.Layout)
}

func TestStore_CloseTwice(t *testing.T) {
	store, _ := createTestStore(t)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
