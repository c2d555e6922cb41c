package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

const versionTypeExternalGTE = "external_gte"

// maxVersion is the largest version the client can send; its request
// options take an int.
var maxVersion int64 = math.MaxInt

func esVersion(v int64) (int, error) {
	if v > maxVersion {
		return 0, types.Permanent(http.StatusBadRequest,
			fmt.Errorf("search: version %d exceeds the largest supported version %d", v, maxVersion))
	}
	return int(v), nil
}

// ElasticsearchOptions configures the Elasticsearch adapter.
type ElasticsearchOptions struct {
	Addresses      []string
	APIKey         string
	Username       string
	Password       string
	RequestTimeout time.Duration
	Resolver       IndexResolver
	Logger         *slog.Logger

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Elasticsearch implements Adapter with the official client. Client-side
// retries are disabled; the queue owns retrying.
type Elasticsearch struct {
	es       *elasticsearch.Client
	resolver IndexResolver
	timeout  time.Duration
	logger   *slog.Logger
}

var _ Adapter = (*Elasticsearch)(nil)

func NewElasticsearch(opts ElasticsearchOptions) (*Elasticsearch, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("search: at least one address is required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    opts.Addresses,
		APIKey:       opts.APIKey,
		Username:     opts.Username,
		Password:     opts.Password,
		Transport:    opts.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = types.DefaultTaskTimeout
	}
	if opts.Resolver.Tenancy == "" {
		opts.Resolver.Tenancy = TenancyPerTenant
	}

	return &Elasticsearch{
		es:       es,
		resolver: opts.Resolver,
		timeout:  timeout,
		logger:   logger.With("component", "search-adapter"),
	}, nil
}

// Upsert indexes the full document under its deterministic id.
func (a *Elasticsearch) Upsert(ctx context.Context, tenantID, indexName, documentID string, payload map[string]any, opts ...WriteOption) error {
	loc, err := a.resolver.Resolve(tenantID, indexName, documentID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(document(tenantID, payload))
	if err != nil {
		return types.Permanent(http.StatusBadRequest, fmt.Errorf("search: encode document: %w", err))
	}

	cfg := applyWriteOptions(opts)
	version, err := esVersion(cfg.version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reqOpts := []func(*esapi.IndexRequest){
		a.es.Index.WithContext(ctx),
		a.es.Index.WithDocumentID(loc.DocumentID),
		a.es.Index.WithRefresh("false"),
	}
	if version > 0 {
		reqOpts = append(reqOpts,
			a.es.Index.WithVersion(version),
			a.es.Index.WithVersionType(versionTypeExternalGTE),
		)
	}

	res, err := a.es.Index(loc.Index, bytes.NewReader(body), reqOpts...)
	if err != nil {
		return fmt.Errorf("search: index request: %w", err)
	}
	defer res.Body.Close()

	return a.classify("upsert", loc, res)
}

// Delete removes the document. A missing document is success.
func (a *Elasticsearch) Delete(ctx context.Context, tenantID, indexName, documentID string, opts ...WriteOption) error {
	loc, err := a.resolver.Resolve(tenantID, indexName, documentID)
	if err != nil {
		return err
	}

	cfg := applyWriteOptions(opts)
	version, err := esVersion(cfg.version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reqOpts := []func(*esapi.DeleteRequest){
		a.es.Delete.WithContext(ctx),
		a.es.Delete.WithRefresh("false"),
	}
	if version > 0 {
		reqOpts = append(reqOpts,
			a.es.Delete.WithVersion(version),
			a.es.Delete.WithVersionType(versionTypeExternalGTE),
		)
	}

	res, err := a.es.Delete(loc.Index, loc.DocumentID, reqOpts...)
	if err != nil {
		return fmt.Errorf("search: delete request: %w", err)
	}
	defer res.Body.Close()

	return a.classify("delete", loc, res)
}

// classify maps a response to nil, a transient *types.StatusError or a
// *types.PermanentError.
func (a *Elasticsearch) classify(op string, loc Location, res *esapi.Response) error {
	status := res.StatusCode
	switch {
	case !res.IsError():
		return nil
	case status == http.StatusConflict:
		// A newer version is already indexed.
		a.logger.Debug("Stale write ignored", "op", op, "index", loc.Index, "id", loc.DocumentID)
		return nil
	case status == http.StatusNotFound && op == "delete":
		return nil
	}

	cause := fmt.Errorf("search: %s %s/%s: %s", op, loc.Index, loc.DocumentID, errorReason(res))
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return types.Permanent(status, cause)
	default:
		return &types.StatusError{StatusCode: status, Err: cause}
	}
}

type esErrorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func errorReason(res *esapi.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var body esErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Type != "" {
		return fmt.Sprintf("[%s] %s: %s", res.Status(), body.Error.Type, body.Error.Reason)
	}
	return fmt.Sprintf("[%s] %s", res.Status(), bytes.TrimSpace(raw))
}
