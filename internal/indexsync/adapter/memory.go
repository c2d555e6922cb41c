package adapter

import (
	"context"
	"sync"
)

type memDoc struct {
	body    map[string]any
	version int64
}

// Memory is an in-process Adapter with the same tenancy and versioning
// rules as Elasticsearch. It backs standalone mode and tests.
type Memory struct {
	resolver IndexResolver

	mu      sync.RWMutex
	indices map[string]map[string]memDoc
	// tombstones keep the version of deleted documents so an older upsert
	// cannot resurrect them.
	tombstones map[string]map[string]int64

	// Hook, when set, runs before every write and can fail it.
	Hook func(op string, tenantID, indexName, documentID string) error
}

var _ Adapter = (*Memory)(nil)

func NewMemory(resolver IndexResolver) *Memory {
	if resolver.Tenancy == "" {
		resolver.Tenancy = TenancyPerTenant
	}
	return &Memory{
		resolver:   resolver,
		indices:    make(map[string]map[string]memDoc),
		tombstones: make(map[string]map[string]int64),
	}
}

func (m *Memory) Upsert(ctx context.Context, tenantID, indexName, documentID string, payload map[string]any, opts ...WriteOption) error {
	if err := m.before(ctx, "upsert", tenantID, indexName, documentID); err != nil {
		return err
	}
	loc, err := m.resolver.Resolve(tenantID, indexName, documentID)
	if err != nil {
		return err
	}
	cfg := applyWriteOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.version > 0 && m.currentVersion(loc) > cfg.version {
		return nil
	}
	idx := m.indices[loc.Index]
	if idx == nil {
		idx = make(map[string]memDoc)
		m.indices[loc.Index] = idx
	}
	idx[loc.DocumentID] = memDoc{body: document(tenantID, payload), version: cfg.version}
	delete(m.tombstones[loc.Index], loc.DocumentID)
	return nil
}

func (m *Memory) Delete(ctx context.Context, tenantID, indexName, documentID string, opts ...WriteOption) error {
	if err := m.before(ctx, "delete", tenantID, indexName, documentID); err != nil {
		return err
	}
	loc, err := m.resolver.Resolve(tenantID, indexName, documentID)
	if err != nil {
		return err
	}
	cfg := applyWriteOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.version > 0 && m.currentVersion(loc) > cfg.version {
		return nil
	}
	delete(m.indices[loc.Index], loc.DocumentID)
	if cfg.version > 0 {
		if m.tombstones[loc.Index] == nil {
			m.tombstones[loc.Index] = make(map[string]int64)
		}
		m.tombstones[loc.Index][loc.DocumentID] = cfg.version
	}
	return nil
}

func (m *Memory) before(ctx context.Context, op, tenantID, indexName, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Hook != nil {
		return m.Hook(op, tenantID, indexName, documentID)
	}
	return nil
}

func (m *Memory) currentVersion(loc Location) int64 {
	if doc, ok := m.indices[loc.Index][loc.DocumentID]; ok {
		return doc.version
	}
	return m.tombstones[loc.Index][loc.DocumentID]
}

// Get returns a copy of the indexed document as tenantID sees it.
func (m *Memory) Get(tenantID, indexName, documentID string) (map[string]any, bool) {
	loc, err := m.resolver.Resolve(tenantID, indexName, documentID)
	if err != nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.indices[loc.Index][loc.DocumentID]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(doc.body))
	for k, v := range doc.body {
		out[k] = v
	}
	return out, true
}

// Count returns how many documents the physical index holds.
func (m *Memory) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices[index])
}

// Indices lists the physical indices that hold documents.
func (m *Memory) Indices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indices))
	for name, docs := range m.indices {
		if len(docs) > 0 {
			out = append(out, name)
		}
	}
	return out
}
