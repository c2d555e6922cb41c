// Package types holds the job record shared by the producer, the worker
// pool and the reindexer, plus the error taxonomy the search adapter uses to
// tell transient failures from permanent ones.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Action is the index operation a job performs.
type Action string

const (
	ActionUpsert Action = "UPSERT"
	ActionDelete Action = "DELETE"
)

// JobState is the lifecycle position of a job, used in logs.
type JobState string

const (
	StatePending        JobState = "PENDING"
	StateInFlight       JobState = "IN_FLIGHT"
	StateAcked          JobState = "ACKED"
	StateRetryScheduled JobState = "RETRY_SCHEDULED"
	StateDeadLettered   JobState = "DEAD_LETTERED"
)

// Job is one unit of work: make the index reflect a single primary-store
// change. Once enqueued it is never mutated; only Attempts is re-derived from
// the queue's delivery count on each delivery.
type Job struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId" validate:"required"`
	IndexName  string         `json:"indexName" validate:"required"`
	DocumentID string         `json:"documentId" validate:"required"`
	Action     Action         `json:"action" validate:"required,oneof=UPSERT DELETE"`
	Payload    map[string]any `json:"payload,omitempty"`
	Version    int64          `json:"version,omitempty" validate:"gte=0"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	Attempts   int            `json:"attempts"`
}

// Target is the logical document a job addresses.
type Target struct {
	TenantID   string
	IndexName  string
	DocumentID string
}

func (t Target) String() string {
	return t.TenantID + "/" + t.IndexName + "/" + t.DocumentID
}

// Target returns the logical target of the job.
func (j *Job) Target() Target {
	return Target{TenantID: j.TenantID, IndexName: j.IndexName, DocumentID: j.DocumentID}
}

// ErrInvalidJob marks a job that fails validation or cannot be decoded.
var ErrInvalidJob = errors.New("invalid job")

var validate = validator.New()

// Validate checks required fields and the action/payload rule: UPSERT needs
// a non-empty payload, DELETE must not carry one.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidJob, describe(err))
	}
	switch j.Action {
	case ActionUpsert:
		if len(j.Payload) == 0 {
			return fmt.Errorf("%w: UPSERT requires a payload", ErrInvalidJob)
		}
	case ActionDelete:
		if j.Payload != nil {
			return fmt.Errorf("%w: DELETE must not carry a payload", ErrInvalidJob)
		}
	}
	return nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// DecodeJSON unmarshals data into v, keeping numbers in payloads as
// json.Number so integers beyond 2^53 reach the index unchanged.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}

// DecodeJob unmarshals and validates a queued job.
func DecodeJob(data []byte) (*Job, error) {
	var job Job
	if err := DecodeJSON(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
