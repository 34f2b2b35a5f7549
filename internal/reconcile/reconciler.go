package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
)

// RetryConfig bounds how retryable provider errors are retried.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultRetry retries a failing operation up to 3 attempts total.
var DefaultRetry = RetryConfig{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
}

// OpError reports which operation on which record failed.
type OpError struct {
	Op     string // "delete", "create" or "update"
	Record dns.Record
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Record, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Result counts the operations applied in one run.
type Result struct {
	Deleted int
	Created int
	Updated int
}

// Reconciler converges a provider-hosted zone onto a desired record set.
type Reconciler struct {
	Provider dns.Provider
	Log      logr.Logger
	Retry    RetryConfig
}

// New creates a Reconciler with default retry behavior.
func New(provider dns.Provider, log logr.Logger) *Reconciler {
	return &Reconciler{Provider: provider, Log: log, Retry: DefaultRetry}
}

// Plan fetches the current record set and computes the plan converging it
// onto desired. It performs no mutations.
func (r *Reconciler) Plan(ctx context.Context, desired []dns.Record) (Plan, error) {
	current, err := r.Provider.List(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("listing current records: %w", err)
	}
	r.Log.V(1).Info("fetched current records", "count", len(current))
	return Diff(desired, current), nil
}

// Apply executes the plan sequentially: deletes, then creates, then updates.
// Retryable errors are retried with bounded exponential backoff; the first
// non-retryable error (or a retryable one with retries exhausted) stops the
// run. Already-applied operations stay in place: the plan is convergent, so a
// rerun picks up where this one stopped.
func (r *Reconciler) Apply(ctx context.Context, plan Plan) (Result, error) {
	var res Result
	for _, rec := range plan.Deletes {
		if err := r.applyOp(ctx, "delete", rec, r.Provider.Delete); err != nil {
			return res, err
		}
		res.Deleted++
	}
	for _, rec := range plan.Creates {
		if err := r.applyOp(ctx, "create", rec, r.Provider.Create); err != nil {
			return res, err
		}
		res.Created++
	}
	for _, up := range plan.Updates {
		if err := r.applyOp(ctx, "update", up.New, r.Provider.Update); err != nil {
			return res, err
		}
		res.Updated++
	}
	r.Log.Info("apply complete", "deleted", res.Deleted, "created", res.Created, "updated", res.Updated)
	return res, nil
}

func (r *Reconciler) applyOp(ctx context.Context, op string, record dns.Record, fn func(context.Context, dns.Record) error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := fn(ctx, record)
		if err == nil {
			return struct{}{}, nil
		}
		if !dns.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		r.Log.Info("retryable error, backing off", "op", op, "record", record.String(), "attempt", attempt, "err", err.Error())
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.Retry.InitialInterval

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.Retry.MaxAttempts)))
	if err != nil {
		return &OpError{Op: op, Record: record, Err: err}
	}
	return nil
}
