package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/logging"
	"github.com/meikuraledutech/procgraph/memory"
	"github.com/meikuraledutech/procgraph/telemetry"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return sr, tp
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestSetError(t *testing.T) {
	sr, tp := newRecorder(t)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	telemetry.SetError(span, errors.New("boom"), attribute.String("stage", "commit"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)

	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"exception", "error_occurred"}, names)
}

func TestEngineSpans(t *testing.T) {
	sr, tp := newRecorder(t)
	ctx := context.Background()

	store := memory.NewStore()
	engine := procgraph.New(store,
		procgraph.WithLogger(logging.NewNop()),
		procgraph.WithTracer(tp.Tracer(telemetry.InstrumentationName)),
	)
	_, err := engine.Create(ctx, &procgraph.ProcessVersion{ProcessID: "invoice", VersionNumber: 1})
	require.NoError(t, err)

	_, err = engine.ApplyOps(ctx, procgraph.ApplyRequest{
		ProcessID: "invoice",
		Version:   1,
		Ops:       []procgraph.Operation{procgraph.AddNode(procgraph.Node{ID: "a", Title: "A"})},
		ActorID:   "alice",
	})
	require.NoError(t, err)

	_, err = engine.ApplyOps(ctx, procgraph.ApplyRequest{ProcessID: "invoice", Version: 1, ExpectedRevision: 0})
	require.Error(t, err)

	ended := sr.Ended()
	require.Len(t, ended, 2)

	ok := ended[0]
	assert.Equal(t, "procgraph.ApplyOps", ok.Name())
	assert.Equal(t, codes.Unset, ok.Status().Code)
	a := attrs(ok.Attributes())
	assert.Equal(t, "invoice", a[telemetry.ProcessIDKey].AsString())
	assert.Equal(t, int64(1), a[telemetry.OpsKey].AsInt64())
	assert.Equal(t, "alice", a[telemetry.ActorIDKey].AsString())
	assert.Equal(t, int64(1), a[telemetry.RevisionKey].AsInt64())

	assert.Equal(t, codes.Error, ended[1].Status().Code)
}
