package embed

import (
	"context"
	"time"
)

// WithTimeout wraps c so every embedding call carries its own deadline on
// top of whatever the caller set. A non-positive d returns c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if c == nil || d <= 0 {
		return c
	}
	return &deadlineClient{next: c, timeout: d}
}

type deadlineClient struct {
	next    Client
	timeout time.Duration
}

func (c *deadlineClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Embed(ctx, text)
}

func (c *deadlineClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.EmbedBatch(ctx, texts)
}
