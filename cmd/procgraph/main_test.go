package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/logging"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	cmd.Reader = strings.NewReader(stdin)

	err := cmd.Run(context.Background(), append([]string{"procgraph", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestCLI_ImportApplyShow(t *testing.T) {
	db := "sqlite://" + filepath.Join(t.TempDir(), "procgraph.db")

	out, err := run(t, "", "--database-url", db, "import", "../../importer/testdata/invoice.yaml")
	require.NoError(t, err)

	var imported procgraph.ApplyResult
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, int64(1), imported.Revision)

	ops := `[{"type": "ADD_NODE", "payload": {"node": {"id": "audit", "title": "Audit trail"}}}]`
	out, err = run(t, ops, "--database-url", db, "apply",
		"--process", "invoice-approval", "--version", "2", "--expected-revision", "1", "--actor", "carol")
	require.NoError(t, err)

	var applied procgraph.ApplyResult
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.Equal(t, int64(2), applied.Revision)
	require.Len(t, applied.Outcomes, 1)
	assert.Equal(t, procgraph.StatusApplied, applied.Outcomes[0].Status)

	out, err = run(t, "", "--database-url", db, "show", "--process", "invoice-approval", "--version", "2")
	require.NoError(t, err)

	var v procgraph.ProcessVersion
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, int64(2), v.Revision)
	assert.Equal(t, "carol", v.UpdatedBy)
	assert.True(t, v.Model.HasNode("audit"))

	out, err = run(t, "", "--database-url", db, "show", "--process", "invoice-approval", "--version", "2", "--format", "mermaid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flowchart LR"))
	assert.Contains(t, out, `audit["Audit trail"]`)
}

func TestCLI_ApplyStaleRevision(t *testing.T) {
	db := "sqlite://" + filepath.Join(t.TempDir(), "procgraph.db")

	_, err := run(t, "", "--database-url", db, "import", "../../importer/testdata/invoice.yaml")
	require.NoError(t, err)

	_, err = run(t, "[]", "--database-url", db, "apply",
		"--process", "invoice-approval", "--version", "2", "--expected-revision", "0")
	require.Error(t, err)
	assert.True(t, procgraph.IsConflict(err))
}

func TestCLI_ShowMissing(t *testing.T) {
	_, err := run(t, "", "show", "--process", "nope")
	require.Error(t, err)
	assert.True(t, procgraph.IsNotFound(err))
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNop()

	b, err := openBackend(ctx, logger, "memory://")
	require.NoError(t, err)
	assert.Nil(t, b.locker)
	require.NoError(t, b.close())

	b, err = openBackend(ctx, logger, "sqlite://"+filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	assert.Len(t, b.engineOptions(defaultLockTTL), 1)
	require.NoError(t, b.close())

	_, err = openBackend(ctx, logger, "mongodb://localhost")
	require.ErrorContains(t, err, "unsupported database scheme")

	_, err = openBackend(ctx, logger, "/var/lib/procgraph.db")
	require.ErrorContains(t, err, "no scheme")
}

func TestOpenBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.NewNop()

	b, err := openBus(ctx, logger, "none", nil)
	require.NoError(t, err)
	assert.Empty(t, b.engineOptions())

	b, err = openBus(ctx, logger, "gochannel", nil)
	require.NoError(t, err)
	assert.Len(t, b.engineOptions(), 1)
	require.NoError(t, b.close())

	_, err = openBus(ctx, logger, "kafka", nil)
	require.Error(t, err)

	_, err = openBus(ctx, logger, "rabbitmq", nil)
	require.ErrorContains(t, err, "unsupported event bus")
}

func TestReadOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type": "REMOVE_NODE", "payload": {"nodeId": "a"}}]`), 0o600))

	ops, err := readOps(path, nil)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, procgraph.OpRemoveNode, ops[0].Type)

	_, err = readOps("-", strings.NewReader("{"))
	require.Error(t, err)
}
