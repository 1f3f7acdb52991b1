package procgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meikuraledutech/procgraph/telemetry"
)

// Engine applies operation batches to stored process versions.
// It is safe for concurrent use.
type Engine struct {
	versions VersionStore
	meta     MetaStore
	ids      IDSource
	locker   Locker
	lockTTL  time.Duration
	pub      Publisher
	obs      Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetaStore sets the store UPDATE_PROCESS_META patches are written to. Without one those
// operations are reported as failed.
func WithMetaStore(m MetaStore) Option {
	return func(e *Engine) { e.meta = m }
}

// WithIDSource replaces the default UUIDSource. A nil source keeps the default.
func WithIDSource(src IDSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.ids = src
		}
	}
}

// WithLocker serialises batches per version key with l. The lock expires after ttl if the
// holder dies.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithPublisher announces every committed revision through p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithObserver reports batch measurements to o. A nil observer keeps the no-op default.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an Engine persisting versions in store.
func New(store VersionStore, opts ...Option) *Engine {
	e := &Engine{
		versions: store,
		ids:      UUIDSource{},
		obs:      nopObserver{},
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("module", "engine")
	return e
}

// ApplyRequest is one operation batch against one version.
type ApplyRequest struct {
	ProcessID string
	Version   int
	Ops       []Operation
	// ExpectedRevision is the revision the caller's edits were made against.
	ExpectedRevision int64
	ActorID          string
}

// Key returns the version the request targets.
func (r ApplyRequest) Key() VersionKey {
	return VersionKey{ProcessID: r.ProcessID, Version: r.Version}
}

// ApplyResult reports a committed batch.
type ApplyResult struct {
	Success  bool      `json:"success"`
	Revision int64     `json:"revision"`
	Outcomes []Outcome `json:"outcomes"`
}

// ApplyOps applies req.Ops in order and commits the result as the next revision.
//
// It returns an error wrapping ErrNotFound when the version does not exist and a
// *ConflictError when the stored revision is not req.ExpectedRevision or another writer
// commits first. Store failures come back as *StorageError. Operations that cannot apply are
// skipped and reported in the outcomes; the revision advances even when every operation was
// skipped.
func (e *Engine) ApplyOps(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	key := req.Key()
	ctx, span := e.tracer.Start(ctx, "procgraph.ApplyOps", trace.WithAttributes(
		attribute.String(telemetry.ProcessIDKey, key.ProcessID),
		attribute.Int(telemetry.VersionKey, key.Version),
		attribute.Int(telemetry.OpsKey, len(req.Ops)),
		attribute.String(telemetry.ActorIDKey, req.ActorID),
	))
	defer span.End()

	start := time.Now()
	res, err := e.apply(ctx, key, req)
	if err != nil {
		telemetry.SetError(span, err)
		e.obs.BatchRejected(key, err)
		e.logger.WarnContext(ctx, "batch rejected", "key", key.String(), "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64(telemetry.RevisionKey, res.Revision))
	e.obs.BatchCommitted(key, res.Outcomes, time.Since(start))
	return res, nil
}

func (e *Engine) apply(ctx context.Context, key VersionKey, req ApplyRequest) (*ApplyResult, error) {
	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, key.String(), e.lockTTL)
		if err != nil {
			return nil, &StorageError{Op: "Lock", Key: key, Err: err}
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.ErrorContext(ctx, "failed to release lock", "key", key.String(), "error", err)
			}
		}()
	}

	stored, err := e.versions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("procgraph: version %s: %w", key, ErrNotFound)
		}
		return nil, &StorageError{Op: "Get", Key: key, Err: err}
	}
	if stored.Revision != req.ExpectedRevision {
		return nil, &ConflictError{Key: key, Expected: req.ExpectedRevision, Actual: stored.Revision}
	}

	ops, remap, err := resolveIDs(stored.Model, req.Ops, e.ids)
	if err != nil {
		return nil, err
	}
	state, outcomes := Interpret(State{Model: stored.Model, Layout: stored.Layout}, ops, remap)
	if err := state.Model.Validate(); err != nil {
		return nil, fmt.Errorf("procgraph: batch on %s: %w", key, err)
	}

	next := &ProcessVersion{
		ID:            stored.ID,
		ProcessID:     stored.ProcessID,
		VersionNumber: stored.VersionNumber,
		Revision:      stored.Revision + 1,
		Model:         state.Model,
		Layout:        state.Layout,
		UpdatedBy:     req.ActorID,
		UpdatedAt:     e.now().UTC(),
	}
	if err := e.versions.Put(ctx, next, stored.Revision); err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			return nil, fmt.Errorf("procgraph: put %s: %w", key, err)
		case errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("procgraph: put %s: %w", key, ErrNotFound)
		}
		return nil, &StorageError{Op: "Put", Key: key, Err: err}
	}

	e.writeMeta(ctx, key, state.Meta, outcomes)
	e.publish(ctx, next, req, outcomes)

	e.logger.InfoContext(ctx, "batch committed",
		"key", key.String(),
		"revision", next.Revision,
		"ops", len(req.Ops),
		"applied", countApplied(outcomes),
	)

	return &ApplyResult{Success: true, Revision: next.Revision, Outcomes: outcomes}, nil
}

// writeMeta flushes queued metadata patches. The version is already committed, so a failure
// only marks the producing operation as failed.
func (e *Engine) writeMeta(ctx context.Context, key VersionKey, queued []QueuedMeta, outcomes []Outcome) {
	for _, q := range queued {
		if e.meta == nil {
			outcomes[q.Index].Status = StatusFailed
			outcomes[q.Index].Reason = "no metadata store configured"
			continue
		}
		if _, err := e.meta.UpdateMeta(ctx, key.ProcessID, q.Patch); err != nil {
			outcomes[q.Index].Status = StatusFailed
			outcomes[q.Index].Reason = err.Error()
			e.logger.ErrorContext(ctx, "failed to update process meta",
				"key", key.String(), "op", q.Index, "error", err)
		}
	}
}

func (e *Engine) publish(ctx context.Context, v *ProcessVersion, req ApplyRequest, outcomes []Outcome) {
	if e.pub == nil {
		return
	}
	ev := RevisionEvent{
		Key:         v.Key(),
		Revision:    v.Revision,
		ActorID:     req.ActorID,
		Operations:  len(req.Ops),
		Applied:     countApplied(outcomes),
		CommittedAt: v.UpdatedAt,
	}
	if err := e.pub.PublishRevision(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish revision",
			"key", ev.Key.String(), "revision", ev.Revision, "error", err)
	}
}

func countApplied(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == StatusApplied {
			n++
		}
	}
	return n
}

// Create stores v as revision 0 of a new version. An empty ID is filled in and the layout is
// pruned to the graph's nodes.
func (e *Engine) Create(ctx context.Context, v *ProcessVersion) (*ProcessVersion, error) {
	if v.ProcessID == "" {
		return nil, errors.New("procgraph: process id is required")
	}
	if err := v.Model.Validate(); err != nil {
		return nil, fmt.Errorf("procgraph: create %s: %w", v.Key(), err)
	}

	out := v.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Revision = 0
	out.Layout = out.Layout.Prune(out.Model)
	out.UpdatedAt = e.now().UTC()
	for i := range out.Model.Nodes {
		if out.Model.Nodes[i].Checklist == nil {
			out.Model.Nodes[i].Checklist = []string{}
		}
	}

	if err := e.versions.Create(ctx, out); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("procgraph: create %s: %w", out.Key(), ErrAlreadyExists)
		}
		return nil, &StorageError{Op: "Create", Key: out.Key(), Err: err}
	}
	e.logger.InfoContext(ctx, "version created", "key", out.Key().String(), "nodes", len(out.Model.Nodes))
	return out, nil
}

// Get returns the stored version for key.
func (e *Engine) Get(ctx context.Context, key VersionKey) (*ProcessVersion, error) {
	v, err := e.versions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("procgraph: version %s: %w", key, ErrNotFound)
		}
		return nil, &StorageError{Op: "Get", Key: key, Err: err}
	}
	return v, nil
}

// Meta returns the descriptive record of a process.
func (e *Engine) Meta(ctx context.Context, processID string) (*ProcessMeta, error) {
	if e.meta == nil {
		return nil, fmt.Errorf("procgraph: meta %s: %w", processID, ErrNotFound)
	}
	m, err := e.meta.GetMeta(ctx, processID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("procgraph: meta %s: %w", processID, ErrNotFound)
		}
		return nil, &StorageError{Op: "GetMeta", Key: VersionKey{ProcessID: processID}, Err: err}
	}
	return m, nil
}

type nopObserver struct{}

func (nopObserver) BatchCommitted(VersionKey, []Outcome, time.Duration) {}
func (nopObserver) BatchRejected(VersionKey, error)                     {}
