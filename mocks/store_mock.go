// Package mocks provides testify mocks of the procgraph ports.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/meikuraledutech/procgraph"
)

// MockVersionStore is a mock implementation of procgraph.VersionStore.
type MockVersionStore struct {
	mock.Mock
}

func (m *MockVersionStore) Create(ctx context.Context, v *procgraph.ProcessVersion) error {
	args := m.Called(ctx, v)

	return args.Error(0)
}

func (m *MockVersionStore) Get(ctx context.Context, key procgraph.VersionKey) (*procgraph.ProcessVersion, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*procgraph.ProcessVersion), args.Error(1)
}

func (m *MockVersionStore) Put(ctx context.Context, v *procgraph.ProcessVersion, prevRevision int64) error {
	args := m.Called(ctx, v, prevRevision)

	return args.Error(0)
}

// MockMetaStore is a mock implementation of procgraph.MetaStore.
type MockMetaStore struct {
	mock.Mock
}

func (m *MockMetaStore) GetMeta(ctx context.Context, processID string) (*procgraph.ProcessMeta, error) {
	args := m.Called(ctx, processID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*procgraph.ProcessMeta), args.Error(1)
}

func (m *MockMetaStore) UpdateMeta(ctx context.Context, processID string, patch procgraph.MetaPatch) (*procgraph.ProcessMeta, error) {
	args := m.Called(ctx, processID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*procgraph.ProcessMeta), args.Error(1)
}

// MockLocker is a mock implementation of procgraph.Locker.
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Lock(ctx context.Context, key string, ttl time.Duration) (procgraph.UnlockFunc, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(procgraph.UnlockFunc), args.Error(1)
}

// MockPublisher is a mock implementation of procgraph.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishRevision(ctx context.Context, ev procgraph.RevisionEvent) error {
	args := m.Called(ctx, ev)

	return args.Error(0)
}

// MockObserver is a mock implementation of procgraph.Observer.
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) BatchCommitted(key procgraph.VersionKey, outcomes []procgraph.Outcome, took time.Duration) {
	m.Called(key, outcomes, took)
}

func (m *MockObserver) BatchRejected(key procgraph.VersionKey, err error) {
	m.Called(key, err)
}
