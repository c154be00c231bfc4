package middleware

import (
	"context"
	"time"

	"toolatlas.dev/search/runtime/model"
)

// NewTimeout returns a model.Client middleware that bounds every completion
// with its own deadline. The bound composes with whatever deadline the
// caller already carries; the earlier one wins. A non-positive d leaves the
// client unwrapped.
func NewTimeout(d time.Duration) func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil || d <= 0 {
			return next
		}
		return &deadlineClient{next: next, timeout: d}
	}
}

type deadlineClient struct {
	next    model.Client
	timeout time.Duration
}

func (c *deadlineClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Complete(ctx, req)
}
