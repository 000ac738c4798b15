package llm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// ErrWaitPastDeadline is returned, alongside ErrModelUnavailable, when the
// next request slot opens only after the context deadline. The request was
// never sent.
var ErrWaitPastDeadline = errors.New("rate limit wait would pass the deadline")

// RateLimited spaces calls to the wrapped client to at most rpm per minute.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

func NewRateLimited(next Client, rpm int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

func (r *RateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return "", fmt.Errorf("%w: %w: %w", ErrModelUnavailable, ErrWaitPastDeadline, err)
		}
		return "", unavailableErr("rate limit wait", err)
	}
	return r.next.Complete(ctx, prompt)
}
