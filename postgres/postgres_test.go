package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/meikuraledutech/procgraph/postgres"
	"github.com/meikuraledutech/procgraph/storetest"
)

func setupTestStore(t *testing.T) *postgres.PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("procgraph_test"),
		tcpostgres.WithUsername("procgraph"),
		tcpostgres.WithPassword("procgraph"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.Connect(ctx, databaseURL)
	require.NoError(t, err)
	require.NoError(t, store.CreateSchema(ctx))

	t.Cleanup(func() {
		require.NoError(t, store.DropSchema(ctx))
		store.Close()
		require.NoError(t, testcontainers.TerminateContainer(container))
		cancel()
	})

	return store
}

func TestPGStore_Contract(t *testing.T) {
	storetest.RunStoreContract(t, setupTestStore(t))
}
