// Package httputil provides the HTTP plumbing shared by upstream clients.
//
// # Overview
//
//   - [Backoff]: bounded retry with exponential delay for transient failures
//   - [Limiter]: client-side pacing of outgoing requests
//
// # Retry
//
// Only errors wrapped in [RetryableError] are retried. Everything else is
// returned on the first attempt, so a 404 never costs a second round trip:
//
//	b := httputil.Backoff{Attempts: 3, Delay: 500 * time.Millisecond}
//	err := b.Do(ctx, func(ctx context.Context) error {
//	    resp, err := client.Do(req.WithContext(ctx))
//	    if err != nil {
//	        return &httputil.RetryableError{Err: err}
//	    }
//	    ...
//	})
//
// A zero Backoff makes exactly one attempt.
//
// # Pacing
//
// [Limiter] wraps golang.org/x/time/rate. A nil *Limiter never blocks, which
// is what [NewLimiter] returns for a non-positive rate.
package httputil
