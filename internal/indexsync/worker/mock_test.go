package worker

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
)

type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Upsert(ctx context.Context, tenantID, indexName, documentID string, payload map[string]any, opts ...adapter.WriteOption) error {
	args := m.Called(ctx, tenantID, indexName, documentID, payload, len(opts))
	if fn, ok := args.Get(0).(func()); ok {
		fn()
		return nil
	}
	return args.Error(0)
}

func (m *MockAdapter) Delete(ctx context.Context, tenantID, indexName, documentID string, opts ...adapter.WriteOption) error {
	args := m.Called(ctx, tenantID, indexName, documentID, len(opts))
	return args.Error(0)
}

type fakeSink struct {
	mu      sync.Mutex
	entries []*deadletter.Entry
	err     error
}

func (s *fakeSink) Write(ctx context.Context, e *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *fakeSink) Entries() []*deadletter.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*deadletter.Entry(nil), s.entries...)
}
