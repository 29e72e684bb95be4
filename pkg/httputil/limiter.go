package httputil

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outgoing requests. The zero value and nil never block.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter allows perSecond requests per second with the given burst.
// It returns nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// Wait blocks until a request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
