// Package deadletter keeps jobs the worker pool gave up on, so operators can
// inspect and replay them. Entries keep the exact queued bytes.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

const (
	ReasonPermanent   = "permanent_error"
	ReasonMaxAttempts = "max_attempts_exceeded"
)

var (
	ErrNotFound      = errors.New("dead-letter entry not found")
	ErrNotReplayable = errors.New("dead-letter entry has no valid job")
)

// Entry is one dead-lettered message.
type Entry struct {
	ID         string       `json:"id" bson:"_id"`
	Data       []byte       `json:"data" bson:"data"`
	Subject    string       `json:"subject,omitempty" bson:"subject,omitempty"`
	TenantID   string       `json:"tenantId,omitempty" bson:"tenant_id,omitempty"`
	IndexName  string       `json:"indexName,omitempty" bson:"index_name,omitempty"`
	DocumentID string       `json:"documentId,omitempty" bson:"document_id,omitempty"`
	Action     types.Action `json:"action,omitempty" bson:"action,omitempty"`
	Reason     string       `json:"reason" bson:"reason"`
	Error      string       `json:"error,omitempty" bson:"error,omitempty"`
	StatusCode int          `json:"statusCode,omitempty" bson:"status_code,omitempty"`
	Attempts   int          `json:"attempts" bson:"attempts"`
	FailedAt   time.Time    `json:"failedAt" bson:"failed_at"`
}

// NewEntry builds an entry. job may be nil when data could not be decoded.
func NewEntry(job *types.Job, data []byte, reason string, cause error) *Entry {
	e := &Entry{
		ID:       uuid.NewString(),
		Data:     append([]byte(nil), data...),
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
		e.StatusCode = types.StatusCode(cause)
	}
	if job != nil {
		e.TenantID = job.TenantID
		e.IndexName = job.IndexName
		e.DocumentID = job.DocumentID
		e.Action = job.Action
		e.Attempts = job.Attempts
	}
	return e
}

// Job decodes the stored job.
func (e *Entry) Job() (*types.Job, error) {
	job, err := types.DecodeJob(e.Data)
	if err != nil {
		return nil, errors.Join(ErrNotReplayable, err)
	}
	return job, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	TenantID  string
	IndexName string
	Limit     int
}

func (f Filter) matches(e *Entry) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.IndexName != "" && e.IndexName != f.IndexName {
		return false
	}
	return true
}

// Sink receives dead-lettered jobs. Write must be durable when it returns
// nil; the worker only terminates the message afterwards.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
}

// Store is a Sink that can also be browsed.
type Store interface {
	Sink
	// List returns entries newest first.
	List(ctx context.Context, f Filter) ([]*Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}
