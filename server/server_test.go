package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/logging"
	"github.com/meikuraledutech/procgraph/memory"
	"github.com/meikuraledutech/procgraph/metrics"
	"github.com/meikuraledutech/procgraph/mocks"
	"github.com/meikuraledutech/procgraph/server"
)

const startVersion = `{
	"versionNumber": 1,
	"actorId": "alice",
	"model": {"nodes": [{"id": "start", "type": "start", "title": "Start"}], "edges": []},
	"layout": {"positions": {"start": {"x": 50, "y": 150}}}
}`

func setupTestApp(t *testing.T, opts ...server.Option) *fiber.App {
	t.Helper()
	store := memory.NewStore()
	engine := procgraph.New(store,
		procgraph.WithMetaStore(store),
		procgraph.WithIDSource(procgraph.NewSequenceSource()),
		procgraph.WithLogger(logging.NewNop()),
	)

	return server.NewAPI(engine, logging.NewNop(), opts...).App()
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, out
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()
	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	typ, _ := problem["type"].(string)

	return typ
}

func TestAPI_Health(t *testing.T) {
	t.Parallel()
	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestAPI_CreateVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "successful creation",
			body:           startVersion,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid json",
			body:           `{"versionNumber":`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "missing version number",
			body:           `{"model": {"nodes": [], "edges": []}}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "dangling edge",
			body: `{"versionNumber": 1, "model": {
				"nodes": [{"id": "a", "type": "start", "title": "A"}],
				"edges": [{"id": "e1", "source": "a", "target": "ghost"}]}}`,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   "invalid_graph",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app := setupTestApp(t)

			status, body := do(t, app, http.MethodPost, "/processes/invoice/versions", tt.body)
			assert.Equal(t, tt.expectedStatus, status)

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, problemType(t, body))
				return
			}

			var v procgraph.ProcessVersion
			require.NoError(t, json.Unmarshal(body, &v))
			assert.Equal(t, "invoice", v.ProcessID)
			assert.Equal(t, int64(0), v.Revision)
			assert.Equal(t, "alice", v.UpdatedBy)
			assert.NotEmpty(t, v.ID)
		})
	}
}

func TestAPI_CreateVersion_Duplicate(t *testing.T) {
	t.Parallel()
	app := setupTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_exists", problemType(t, body))
}

func TestAPI_GetVersion(t *testing.T) {
	t.Parallel()
	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/processes/invoice/versions/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", problemType(t, body))

	status, body = do(t, app, http.MethodGet, "/processes/invoice/versions/latest", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", problemType(t, body))

	status, _ = do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
	require.Equal(t, http.StatusCreated, status)

	status, body = do(t, app, http.MethodGet, "/processes/invoice/versions/1", "")
	require.Equal(t, http.StatusOK, status)

	var v procgraph.ProcessVersion
	require.NoError(t, json.Unmarshal(body, &v))
	require.Len(t, v.Model.Nodes, 1)
	assert.Equal(t, "start", v.Model.Nodes[0].ID)
	assert.Equal(t, procgraph.Position{X: 50, Y: 150}, v.Layout.Positions["start"])
}

func TestAPI_ApplyOps(t *testing.T) {
	t.Parallel()
	app := setupTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
	require.Equal(t, http.StatusCreated, status)

	batch := `{
		"expectedRevision": 0,
		"actorId": "bob",
		"ops": [
			{"type": "ADD_NODE", "payload": {"node": {"type": "step", "title": "Review"}}},
			{"type": "ADD_EDGE", "payload": {"edge": {"id": "e1", "source": "start", "target": "node-1"}}},
			{"type": "UPDATE_PROCESS_META", "payload": {"title": "Invoice approval"}}
		]
	}`

	status, body := do(t, app, http.MethodPost, "/processes/invoice/versions/1/ops", batch)
	require.Equal(t, http.StatusOK, status, string(body))

	var result procgraph.ApplyResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.Revision)
	require.Len(t, result.Outcomes, 3)
	for _, o := range result.Outcomes {
		assert.Equal(t, procgraph.StatusApplied, o.Status, o.Reason)
	}

	status, body = do(t, app, http.MethodGet, "/processes/invoice/versions/1", "")
	require.Equal(t, http.StatusOK, status)

	var v procgraph.ProcessVersion
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "bob", v.UpdatedBy)
	assert.Equal(t, procgraph.Position{X: 270, Y: 150}, v.Layout.Positions["node-1"])
	require.Len(t, v.Model.Edges, 1)
	assert.Equal(t, "node-1", v.Model.Edges[0].Target)

	status, body = do(t, app, http.MethodGet, "/processes/invoice/meta", "")
	require.Equal(t, http.StatusOK, status)

	var meta procgraph.ProcessMeta
	require.NoError(t, json.Unmarshal(body, &meta))
	assert.Equal(t, "Invoice approval", meta.Title)
}

func TestAPI_ApplyOps_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "stale revision",
			path:           "/processes/invoice/versions/1/ops",
			body:           `{"expectedRevision": 3, "ops": []}`,
			expectedStatus: http.StatusConflict,
			expectedType:   "revision_conflict",
		},
		{
			name:           "unknown version",
			path:           "/processes/invoice/versions/2/ops",
			body:           `{"expectedRevision": 0, "ops": []}`,
			expectedStatus: http.StatusNotFound,
			expectedType:   "not_found",
		},
		{
			name:           "missing expected revision",
			path:           "/processes/invoice/versions/1/ops",
			body:           `{"ops": []}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "operation without type",
			path:           "/processes/invoice/versions/1/ops",
			body:           `{"expectedRevision": 0, "ops": [{"payload": {}}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "negative revision",
			path:           "/processes/invoice/versions/1/ops",
			body:           `{"expectedRevision": -1, "ops": []}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "malformed body",
			path:           "/processes/invoice/versions/1/ops",
			body:           `{"ops": [`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app := setupTestApp(t)

			status, _ := do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
			require.Equal(t, http.StatusCreated, status)

			status, body := do(t, app, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, status, string(body))
			assert.Equal(t, tt.expectedType, problemType(t, body))
		})
	}
}

func TestAPI_ApplyOps_StorageFailure(t *testing.T) {
	t.Parallel()
	store := &mocks.MockVersionStore{}
	store.On("Get", mock.Anything, procgraph.VersionKey{ProcessID: "invoice", Version: 1}).
		Return(nil, errors.New("connection reset"))

	engine := procgraph.New(store, procgraph.WithLogger(logging.NewNop()))
	app := server.NewAPI(engine, logging.NewNop()).App()

	status, body := do(t, app, http.MethodPost, "/processes/invoice/versions/1/ops", `{"expectedRevision": 0, "ops": []}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "storage_error", problemType(t, body))
	assert.NotContains(t, string(body), "connection reset")
	store.AssertExpectations(t)
}

func TestAPI_Diagram(t *testing.T) {
	t.Parallel()
	app := setupTestApp(t)

	status, _ := do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, app, http.MethodGet, "/processes/invoice/versions/1/diagram", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "flowchart LR")
	assert.Contains(t, string(body), `start(("Start"))`)
}

func TestAPI_Meta_NotFound(t *testing.T) {
	t.Parallel()
	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/processes/invoice/meta", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", problemType(t, body))
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	store := memory.NewStore()
	engine := procgraph.New(store,
		procgraph.WithLogger(logging.NewNop()),
		procgraph.WithObserver(metrics.New(reg)),
	)
	app := server.NewAPI(engine, logging.NewNop(),
		server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	).App()

	status, _ := do(t, app, http.MethodPost, "/processes/invoice/versions", startVersion)
	require.Equal(t, http.StatusCreated, status)
	status, _ = do(t, app, http.MethodPost, "/processes/invoice/versions/1/ops", `{"expectedRevision": 0, "ops": []}`)
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, app, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `procgraph_batches_total{result="committed"} 1`)
}
