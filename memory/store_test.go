package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/procgraph/memory"
	"github.com/meikuraledutech/procgraph/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.RunStoreContract(t, memory.NewStore())
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	v := storetest.Fixture("copies")
	require.NoError(t, s.Create(ctx, v))

	v.Model.Nodes[0].Title = "mutated after create"
	got, err := s.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.Equal(t, "Start", got.Model.Nodes[0].Title)

	got.Layout.Positions["start"] = got.Layout.Positions["end"]
	again, err := s.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.Equal(t, float64(50), again.Layout.Positions["start"].X)
}
