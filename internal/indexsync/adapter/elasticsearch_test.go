package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

type esRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   map[string]any
}

// fakeES answers every request with the next queued status.
type fakeES struct {
	mu       sync.Mutex
	statuses []int
	requests []esRequest
	delay    time.Duration
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	req := esRequest{Method: r.Method, Path: r.URL.Path, Query: map[string]string{}}
	for k := range r.URL.Query() {
		req.Query[k] = r.URL.Query().Get(k)
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status >= 300 {
		_, _ = fmt.Fprintf(w, `{"error":{"type":"some_exception","reason":"nope"},"status":%d}`, status)
		return
	}
	_, _ = w.Write([]byte(`{"result":"updated"}`))
}

func (f *fakeES) last() esRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestES(t *testing.T, resolver IndexResolver, statuses ...int) (*Elasticsearch, *fakeES) {
	t.Helper()
	fake := &fakeES{statuses: statuses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	es, err := NewElasticsearch(ElasticsearchOptions{
		Addresses:      []string{srv.URL},
		RequestTimeout: time.Second,
		Resolver:       resolver,
	})
	require.NoError(t, err)
	return es, fake
}

func TestNewElasticsearch_RequiresAddress(t *testing.T) {
	_, err := NewElasticsearch(ElasticsearchOptions{})
	assert.Error(t, err)
}

func TestElasticsearch_Upsert(t *testing.T) {
	es, fake := newTestES(t, IndexResolver{Prefix: "crm"})

	err := es.Upsert(context.Background(), "acme", "contacts", "c1", map[string]any{"name": "Ada"}, WithVersion(7))
	require.NoError(t, err)

	req := fake.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/crm-acme-contacts/_doc/c1", req.Path)
	assert.Equal(t, "7", req.Query["version"])
	assert.Equal(t, "external_gte", req.Query["version_type"])
	assert.Equal(t, "false", req.Query["refresh"])
	assert.Equal(t, "Ada", req.Body["name"])
	assert.Equal(t, "acme", req.Body[TenantField])
}

func TestElasticsearch_UnversionedUpsert(t *testing.T) {
	es, fake := newTestES(t, IndexResolver{Tenancy: TenancyShared})

	require.NoError(t, es.Upsert(context.Background(), "acme", "contacts", "c1", map[string]any{"a": 1}))
	req := fake.last()
	assert.Equal(t, "/contacts/_doc/acme:c1", req.Path)
	assert.NotContains(t, req.Query, "version")
}

func TestElasticsearch_Delete(t *testing.T) {
	es, fake := newTestES(t, IndexResolver{}, http.StatusNotFound)

	require.NoError(t, es.Delete(context.Background(), "acme", "contacts", "c1", WithVersion(3)))
	req := fake.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/acme-contacts/_doc/c1", req.Path)
	assert.Equal(t, "3", req.Query["version"])
}

func TestElasticsearch_VersionBeyondClientRange(t *testing.T) {
	orig := maxVersion
	t.Cleanup(func() { maxVersion = orig })
	// The limit a 32-bit build has.
	maxVersion = math.MaxInt32

	es, fake := newTestES(t, IndexResolver{})
	err := es.Upsert(context.Background(), "acme", "contacts", "c1", map[string]any{"a": 1}, WithVersion(math.MaxInt32+1))
	assert.True(t, types.IsPermanent(err))
	assert.ErrorContains(t, err, "exceeds the largest supported version")
	err = es.Delete(context.Background(), "acme", "contacts", "c1", WithVersion(1<<40))
	assert.True(t, types.IsPermanent(err))

	require.NoError(t, es.Upsert(context.Background(), "acme", "contacts", "c1", map[string]any{"a": 1}, WithVersion(math.MaxInt32)))
	assert.Equal(t, "2147483647", fake.last().Query["version"])
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.requests, 1, "out-of-range versions never reach the cluster")
}

func TestEsVersion(t *testing.T) {
	v, err := esVersion(math.MaxInt64)
	if math.MaxInt == math.MaxInt64 {
		require.NoError(t, err)
		assert.Equal(t, math.MaxInt, v)
	} else {
		assert.Error(t, err)
	}
	v, err = esVersion(0)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestElasticsearch_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		delete    bool
		wantErr   bool
		permanent bool
	}{
		{"ok", http.StatusOK, false, false, false},
		{"created", http.StatusCreated, false, false, false},
		{"stale version", http.StatusConflict, false, false, false},
		{"stale delete", http.StatusConflict, true, false, false},
		{"delete missing", http.StatusNotFound, true, false, false},
		{"bad request", http.StatusBadRequest, false, true, true},
		{"index missing", http.StatusNotFound, false, true, true},
		{"too large", http.StatusRequestEntityTooLarge, false, true, true},
		{"unprocessable", http.StatusUnprocessableEntity, false, true, true},
		{"timeout", http.StatusRequestTimeout, false, true, false},
		{"throttled", http.StatusTooManyRequests, false, true, false},
		{"unavailable", http.StatusServiceUnavailable, false, true, false},
		{"internal", http.StatusInternalServerError, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es, _ := newTestES(t, IndexResolver{}, tt.status)

			var err error
			if tt.delete {
				err = es.Delete(context.Background(), "t", "i", "d")
			} else {
				err = es.Upsert(context.Background(), "t", "i", "d", map[string]any{"a": 1})
			}

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, types.IsPermanent(err))
			assert.Equal(t, tt.status, types.StatusCode(err))
			assert.Contains(t, err.Error(), "some_exception")
		})
	}
}

func TestElasticsearch_TimeoutIsTransient(t *testing.T) {
	fake := &fakeES{delay: 200 * time.Millisecond}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	es, err := NewElasticsearch(ElasticsearchOptions{
		Addresses:      []string{srv.URL},
		RequestTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	err = es.Upsert(context.Background(), "t", "i", "d", map[string]any{"a": 1})
	require.Error(t, err)
	assert.False(t, types.IsPermanent(err))
}

func TestElasticsearch_TenantMismatchNeverCallsBackend(t *testing.T) {
	es, fake := newTestES(t, IndexResolver{Overrides: map[string]IndexOverride{
		"vip": {Index: "acme-vip", TenantID: "acme"},
	}})

	err := es.Upsert(context.Background(), "globex", "vip", "v1", map[string]any{"a": 1})
	assert.True(t, types.IsPermanent(err))
	err = es.Delete(context.Background(), "globex", "vip", "v1")
	assert.ErrorIs(t, err, ErrTenantMismatch)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.requests)
}
