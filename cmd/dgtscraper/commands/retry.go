package commands

import (
	"context"
	"dgtscraper/internal/pipeline"
	"dgtscraper/internal/scrapers/dgt"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryingSource retries establishing a download on transport errors.
// Protocol and domain errors are returned right away, retrying them gives
// the same answer.
type retryingSource struct {
	inner  pipeline.Source
	policy RetryConfig
}

func newRetryingSource(inner pipeline.Source, policy RetryConfig) retryingSource {
	return retryingSource{inner: inner, policy: policy}
}

func (r retryingSource) newBackOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	if r.policy.InitialIntervalMs > 0 {
		exponential.InitialInterval = time.Duration(r.policy.InitialIntervalMs) * time.Millisecond
	}
	exponential.MaxElapsedTime = 0

	retries := 0
	if r.policy.MaxAttempts > 1 {
		retries = r.policy.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(retries)), ctx)
}

func (r retryingSource) Establish(ctx context.Context, q dgt.Query) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := backoff.RetryNotify(
		func() error {
			var err error
			body, err = r.inner.Establish(ctx, q)
			if err == nil {
				return nil
			}
			var transportErr *dgt.TransportError
			if !errors.As(err, &transportErr) {
				return backoff.Permanent(err)
			}
			return err
		},
		r.newBackOff(ctx),
		func(err error, wait time.Duration) {
			slog.Warn("establish failed, retrying", "query", q.String(), "wait", wait, "err", err)
		},
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}
