// Package queue is a redis-backed, at-least-once job queue with visible
// retries. When redis is not configured the queue reports itself disabled
// and callers fall back to in-process execution.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrQueueDisabled = errors.New("queue_disabled")

// SkipRetry marks a handler error as permanent. A job that fails with it
// goes straight to dead instead of burning through the attempt budget.
var SkipRetry = errors.New("skip retry")

// Permanent wraps err so the queue drops the job instead of retrying it.
// The original error stays visible to errors.Is and errors.As.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

func (e permanentError) Is(target error) bool { return target == SkipRetry }

// Job is the envelope persisted on the queue. Attempt starts at 1 and grows
// on every redelivery. Correlation and the trace identifiers carry the
// enqueuing request's identity so worker logs and spans line up with the
// API call that produced the job.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	Correlation string          `json:"correlation,omitempty"`
	TraceID     string          `json:"traceId,omitempty"`
	SpanID      string          `json:"spanId,omitempty"`
}

// Handler executes one job. A returned error schedules a retry until the
// attempt budget runs out, so handlers must be idempotent per payload.
// Errors wrapped with Permanent are never retried.
type Handler func(ctx context.Context, job Job) error

// Options tunes one consumer group.
type Options struct {
	Concurrency int
	LockTTL     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 2
	}
	if o.LockTTL <= 0 {
		o.LockTTL = time.Minute
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// Queue is the producer surface. Consumption is wired directly on the
// concrete queue by the worker entrypoint.
type Queue interface {
	Enabled() bool
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}
