package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/memory"
	"github.com/meikuraledutech/procgraph/postgres"
	"github.com/meikuraledutech/procgraph/redis"
	"github.com/meikuraledutech/procgraph/sqlite"
)

// store is what every backend provides to the engine.
type store interface {
	procgraph.VersionStore
	procgraph.MetaStore
}

type backend struct {
	store  store
	locker procgraph.Locker
	close  func() error
}

// openBackend picks the store from the scheme of databaseURL.
func openBackend(ctx context.Context, logger *slog.Logger, databaseURL string) (*backend, error) {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return nil, fmt.Errorf("database url %q has no scheme", databaseURL)
	}

	switch scheme {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store, nothing is persisted")
		return &backend{store: memory.NewStore(), close: func() error { return nil }}, nil

	case "sqlite":
		s, err := sqlite.Open(rest)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, close: s.Close}, nil

	case "postgres", "postgresql":
		s, err := postgres.Connect(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.CreateSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return &backend{store: s, close: func() error { s.Close(); return nil }}, nil

	case "redis", "rediss":
		s, err := redis.NewFromURL(databaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  s,
			locker: redis.NewLocker(s.Client(), redis.DefaultPrefix),
			close:  s.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

// engineOptions returns the store-dependent engine options.
func (b *backend) engineOptions(lockTTL time.Duration) []procgraph.Option {
	opts := []procgraph.Option{procgraph.WithMetaStore(b.store)}
	if b.locker != nil && lockTTL > 0 {
		opts = append(opts, procgraph.WithLocker(b.locker, lockTTL))
	}
	return opts
}
