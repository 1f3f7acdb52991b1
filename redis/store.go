// Package redis stores process versions as JSON documents in Redis and provides a
// Redis-backed distributed lock.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/meikuraledutech/procgraph"
)

const (
	// DefaultPrefix is prepended to every key unless WithPrefix says otherwise.
	DefaultPrefix = "procgraph:"
	// metaRetries bounds the optimistic retry loop of UpdateMeta.
	metaRetries = 10
)

// Store implements procgraph.VersionStore and procgraph.MetaStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	now    func() time.Time
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromURL creates a store from a redis:// URL.
func NewFromURL(rawURL string, opts ...Option) (*Store, error) {
	o, err := backend.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return NewFromClient(backend.NewClient(o), opts...), nil
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client returns the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// getter is the read side shared by the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func (s *Store) versionKey(key procgraph.VersionKey) string {
	return s.prefix + "version:" + key.ProcessID + ":" + strconv.Itoa(key.Version)
}

func (s *Store) metaKey(processID string) string {
	return s.prefix + "meta:" + processID
}

// Create stores v with SET NX.
func (s *Store) Create(ctx context.Context, v *procgraph.ProcessVersion) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode version %s: %w", v.Key(), err)
	}

	ok, err := s.client.SetNX(ctx, s.versionKey(v.Key()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: create version %s: %w", v.Key(), err)
	}
	if !ok {
		return fmt.Errorf("redis: create version %s: %w", v.Key(), procgraph.ErrAlreadyExists)
	}
	return nil
}

// Get loads one version.
func (s *Store) Get(ctx context.Context, key procgraph.VersionKey) (*procgraph.ProcessVersion, error) {
	return s.get(ctx, s.client, key)
}

func (s *Store) get(ctx context.Context, c getter, key procgraph.VersionKey) (*procgraph.ProcessVersion, error) {
	data, err := c.Get(ctx, s.versionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("redis: get version %s: %w", key, procgraph.ErrNotFound)
		}
		return nil, fmt.Errorf("redis: get version %s: %w", key, err)
	}

	var v procgraph.ProcessVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("redis: decode version %s: %w", key, err)
	}
	return &v, nil
}

// Put replaces the document under WATCH so that a concurrent writer aborts the transaction.
func (s *Store) Put(ctx context.Context, v *procgraph.ProcessVersion, prevRevision int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode version %s: %w", v.Key(), err)
	}

	key := s.versionKey(v.Key())
	err = s.client.Watch(ctx, func(tx *backend.Tx) error {
		cur, err := s.get(ctx, tx, v.Key())
		if err != nil {
			return err
		}
		if cur.Revision != prevRevision {
			return fmt.Errorf("redis: put version %s from revision %d, stored %d: %w",
				v.Key(), prevRevision, cur.Revision, procgraph.ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, backend.TxFailedErr) {
		return fmt.Errorf("redis: put version %s: %w", v.Key(), procgraph.ErrConflict)
	}
	return err
}

// GetMeta loads the metadata record of a process.
func (s *Store) GetMeta(ctx context.Context, processID string) (*procgraph.ProcessMeta, error) {
	return s.getMeta(ctx, s.client, processID)
}

func (s *Store) getMeta(ctx context.Context, c getter, processID string) (*procgraph.ProcessMeta, error) {
	data, err := c.Get(ctx, s.metaKey(processID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("redis: get meta %s: %w", processID, procgraph.ErrNotFound)
		}
		return nil, fmt.Errorf("redis: get meta %s: %w", processID, err)
	}

	var m procgraph.ProcessMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("redis: decode meta %s: %w", processID, err)
	}
	return &m, nil
}

// UpdateMeta applies patch under WATCH, retrying when another writer touches the record.
func (s *Store) UpdateMeta(ctx context.Context, processID string, patch procgraph.MetaPatch) (*procgraph.ProcessMeta, error) {
	key := s.metaKey(processID)

	var out procgraph.ProcessMeta
	update := func(tx *backend.Tx) error {
		var cur procgraph.ProcessMeta
		m, err := s.getMeta(ctx, tx, processID)
		switch {
		case err == nil:
			cur = *m
		case !errors.Is(err, procgraph.ErrNotFound):
			return err
		}

		out = patch.Apply(cur)
		out.ProcessID = processID
		out.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("redis: encode meta %s: %w", processID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for range metaRetries {
		err := s.client.Watch(ctx, update, key)
		if err == nil {
			return &out, nil
		}
		if !errors.Is(err, backend.TxFailedErr) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("redis: update meta %s: too much contention", processID)
}
