package engine

import (
	"context"
	"errors"
	"time"

	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

const defaultBaseDelay = time.Second

// ComputeBackoff calculates the delay before retry number attempt+1, where
// attempt counts completed failed attempts starting at 0:
// BaseDelay * BackoffMultiplier^attempt.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		return 0
	}

	base := defaultBaseDelay
	if policy.BaseDelay != "" {
		if d, err := time.ParseDuration(policy.BaseDelay); err == nil {
			base = d
		}
	}

	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	return time.Duration(delay)
}

// WaitForBackoff parks until the delay elapses or the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWithRetry executes one node attempt function under the node's retry
// policy and per-attempt timeout. Each timeout counts as a failed attempt.
// When retries are exhausted the last attempt's error is returned unchanged.
func (e *Engine) runWithRetry(ctx context.Context, run *instanceRun, node *schema.WorkflowNode,
	fn func(ctx context.Context) (*executors.ExecutionResult, error)) (*executors.ExecutionResult, error) {

	var timeout time.Duration
	if node.Timeout != "" {
		d, err := time.ParseDuration(node.Timeout)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid timeout %q", node.Timeout).WithNode(node.ID)
		}
		timeout = d
	} else {
		timeout = e.defaultNodeTimeout
	}

	maxRetries := 0
	if node.Retry != nil {
		maxRetries = node.Retry.MaxRetries
	}

	for attempt := 0; ; attempt++ {
		res, err := e.runAttempt(ctx, timeout, fn)
		if err == nil {
			return res, nil
		}

		// Instance cancellation wins over any classification.
		if ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "instance cancelled").
				WithNode(node.ID).WithCause(ctx.Err())
		}

		fe := schema.AsFlowError(err, schema.ErrCodeExecutor)
		if fe.NodeID == "" {
			fe = fe.WithNode(node.ID)
		}

		if attempt >= maxRetries || !fe.IsRetryable() {
			return nil, fe
		}

		delay := ComputeBackoff(node.Retry, attempt)
		e.emit(run, node.ID, schema.EventNodeRetrying, map[string]any{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    fe.Message,
		})

		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "instance cancelled during backoff").
				WithNode(node.ID).WithCause(werr)
		}
	}
}

// detachStop derives a context that keeps ctx's deadline but not its
// cancellation. Executor calls run under it so a stop request cannot
// preempt them mid-flight; the stop flag is observed between node steps.
func detachStop(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return detached, func() {}
}

// runAttempt runs fn under an optional per-attempt deadline, converting a
// deadline hit into a TIMEOUT error.
func (e *Engine) runAttempt(ctx context.Context, timeout time.Duration,
	fn func(ctx context.Context) (*executors.ExecutionResult, error)) (*executors.ExecutionResult, error) {

	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	res, err := fn(attemptCtx)
	if err == nil {
		return res, nil
	}

	// The attempt deadline fired while the instance itself is still live.
	// The deadline may surface on attemptCtx or inside the error from the
	// detached executor context, whichever timer fired first.
	deadlineHit := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
	if timeout > 0 && deadlineHit && ctx.Err() == nil {
		var fe *schema.FlowError
		if errors.As(err, &fe) && fe.Code == schema.ErrCodeTimeout {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "attempt exceeded %s", timeout).WithCause(err)
	}

	return nil, err
}
