package procgraph

import (
	"context"
	"time"
)

// VersionStore persists process versions keyed by process id and version number.
type VersionStore interface {
	// Create stores a new version. Returns ErrAlreadyExists if the key is taken.
	Create(ctx context.Context, v *ProcessVersion) error

	// Get returns the stored version. Returns ErrNotFound if absent.
	Get(ctx context.Context, key VersionKey) (*ProcessVersion, error)

	// Put replaces the stored version only while its revision still equals prevRevision.
	// Returns ErrConflict when another writer got there first and ErrNotFound if the
	// version was deleted.
	Put(ctx context.Context, v *ProcessVersion, prevRevision int64) error
}

// MetaStore holds the descriptive record of each process.
type MetaStore interface {
	// GetMeta returns the record. Returns ErrNotFound if absent.
	GetMeta(ctx context.Context, processID string) (*ProcessMeta, error)

	// UpdateMeta applies the patch, creating the record if needed, and returns the result.
	UpdateMeta(ctx context.Context, processID string, patch MetaPatch) (*ProcessMeta, error)
}

// UnlockFunc releases a lock taken through Locker.
type UnlockFunc func(ctx context.Context) error

// Locker serialises writers of one version across engine replicas.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// RevisionEvent describes one committed batch.
type RevisionEvent struct {
	Key         VersionKey `json:"key"`
	Revision    int64      `json:"revision"`
	ActorID     string     `json:"actorId"`
	Operations  int        `json:"operations"`
	Applied     int        `json:"applied"`
	CommittedAt time.Time  `json:"committedAt"`
}

// Publisher announces committed revisions to downstream consumers.
type Publisher interface {
	PublishRevision(ctx context.Context, ev RevisionEvent) error
}

// Observer receives engine measurements.
type Observer interface {
	BatchCommitted(key VersionKey, outcomes []Outcome, took time.Duration)
	BatchRejected(key VersionKey, err error)
}
