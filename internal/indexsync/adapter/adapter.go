// Package adapter writes job effects into the search index. It is the only
// place where backend responses are classified: a *types.PermanentError
// means retrying cannot help, every other error is transient.
package adapter

import (
	"context"
	"errors"
	"net/http"
)

// Adapter performs idempotent writes against the search index.
// Upsert of identical content leaves identical state; Delete of an absent
// document succeeds.
type Adapter interface {
	Upsert(ctx context.Context, tenantID, indexName, documentID string, payload map[string]any, opts ...WriteOption) error
	Delete(ctx context.Context, tenantID, indexName, documentID string, opts ...WriteOption) error
}

// ErrTenantMismatch is returned when a job addresses an index pinned to a
// different tenant.
var ErrTenantMismatch = errors.New("index belongs to another tenant")

// StatusTenantMismatch is the status attached to ErrTenantMismatch.
const StatusTenantMismatch = http.StatusForbidden

// TenantField is added to every indexed document so searches can filter on it.
const TenantField = "tenant_id"

type writeConfig struct {
	version int64
}

// WriteOption tunes a single write.
type WriteOption func(*writeConfig)

// WithVersion makes the write conditional on version being at least the
// stored one. Zero leaves the write unversioned.
func WithVersion(v int64) WriteOption {
	return func(c *writeConfig) {
		c.version = v
	}
}

func applyWriteOptions(opts []WriteOption) writeConfig {
	var cfg writeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// document builds the indexed body: the payload plus the owning tenant.
func document(tenantID string, payload map[string]any) map[string]any {
	doc := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		doc[k] = v
	}
	doc[TenantField] = tenantID
	return doc
}
