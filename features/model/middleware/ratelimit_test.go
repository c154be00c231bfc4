package middleware

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolatlas.dev/search/runtime/model"
)

type fakeClient struct {
	calls int
	errs  []error
}

func (f *fakeClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return model.Response{}, err
	}
	return model.Response{Text: "ok"}, nil
}

func TestMiddlewareDelegates(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	next := &fakeClient{}
	client := limiter.Middleware()(next)

	resp, err := client.Complete(context.Background(), model.Request{User: "free chatbot"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, next.calls)
}

func TestBackoffHalvesBudget(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	next := &fakeClient{errs: []error{fmt.Errorf("%w: 429", model.ErrRateLimited)}}
	client := limiter.Middleware()(next)

	_, err := client.Complete(context.Background(), model.Request{User: "x"})
	require.ErrorIs(t, err, model.ErrRateLimited)
	assert.InDelta(t, 30000, limiter.currentBudget(), 1)
}

func TestBackoffClampsToFloor(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(1000, 1000)
	for i := 0; i < 20; i++ {
		limiter.backoff()
	}
	assert.InDelta(t, 100, limiter.currentBudget(), 1)
}

func TestProbeRecoversAdditively(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	limiter.backoff()
	budget := limiter.currentBudget()

	next := &fakeClient{}
	client := limiter.Middleware()(next)
	_, err := client.Complete(context.Background(), model.Request{User: "x"})
	require.NoError(t, err)
	assert.InDelta(t, budget+3000, limiter.currentBudget(), 1)
}

func TestProbeClampsToCeiling(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 61000)
	for i := 0; i < 20; i++ {
		limiter.probe()
	}
	assert.InDelta(t, 61000, limiter.currentBudget(), 1)
}

func TestNonRateLimitErrorDoesNotBackOff(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	next := &fakeClient{errs: []error{fmt.Errorf("connection refused")}}
	client := limiter.Middleware()(next)

	_, err := client.Complete(context.Background(), model.Request{User: "x"})
	require.Error(t, err)
	// not a provider rate-limit signal, budget stays put
	assert.InDelta(t, 60000, limiter.currentBudget(), 1)
}

func TestWaitHonorsContext(t *testing.T) {
	// tiny budget so the bucket cannot cover the request estimate
	limiter := NewAdaptiveRateLimiter(1, 1)
	next := &fakeClient{}
	client := limiter.Middleware()(next)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, model.Request{User: "a long enough query text"})
	require.Error(t, err)
	assert.Equal(t, 0, next.calls)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 500, estimateTokens(model.Request{}))
	est := estimateTokens(model.Request{System: "abc", User: "defghi"})
	assert.Equal(t, 9/3+500, est)
}

func TestNilNext(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(0, 0)
	assert.Nil(t, limiter.Middleware()(nil))
	assert.InDelta(t, 60000, limiter.currentBudget(), 1)
}
