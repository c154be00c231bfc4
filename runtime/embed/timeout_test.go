package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadlineAwareEmbedder struct {
	hadDeadline bool
	block       bool
}

func (f *deadlineAwareEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	_, f.hadDeadline = ctx.Deadline()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []float32{1, 0}, nil
}

func (f *deadlineAwareEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	_, f.hadDeadline = ctx.Deadline()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestWithTimeoutSetsDeadline(t *testing.T) {
	next := &deadlineAwareEmbedder{}
	c := WithTimeout(next, 2*time.Second)

	_, err := c.Embed(context.Background(), "code review tool")
	require.NoError(t, err)
	assert.True(t, next.hadDeadline)

	next.hadDeadline = false
	_, err = c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, next.hadDeadline)
}

func TestWithTimeoutCancelsSlowCall(t *testing.T) {
	next := &deadlineAwareEmbedder{block: true}
	c := WithTimeout(next, 10*time.Millisecond)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutDisabledReturnsClient(t *testing.T) {
	next := &deadlineAwareEmbedder{}
	assert.Same(t, Client(next), WithTimeout(next, 0))
}
