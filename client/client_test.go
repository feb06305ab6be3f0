package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/faults"
	"github.com/saiset-co/sai-ads/logger"
	"github.com/saiset-co/sai-ads/types"
)

func startTestServer(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &fasthttp.Server{Handler: handler}
	go func() { _ = server.Serve(ln) }()

	t.Cleanup(func() {
		_ = server.Shutdown()
	})

	return "http://" + ln.Addr().String()
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *AdServerClient {
	t.Helper()

	c := NewAdServerClient(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil, &types.ClientConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: timeout,
	})
	t.Cleanup(c.Close)

	return c
}

func testRequest() *types.AdRequest {
	return &types.AdRequest{
		RequestID: "r1",
		Placement: types.Placement{ID: "p1"},
		Timestamp: time.Now(),
	}
}

func TestRequestAdsSuccess(t *testing.T) {
	var gotAuth atomic.Value
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		gotAuth.Store(string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"request_id":"r1","ads":[]}`)
	})

	c := newTestClient(t, baseURL, 2*time.Second)

	body, err := c.RequestAds(context.Background(), testRequest())

	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r1","ads":[]}`, string(body))
	assert.Equal(t, "Bearer test-key", gotAuth.Load())
}

func TestRequestAdsServerError(t *testing.T) {
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("boom")
	})

	c := newTestClient(t, baseURL, 2*time.Second)

	_, err := c.RequestAds(context.Background(), testRequest())

	require.Error(t, err)
	fault := faults.From(err)
	assert.Equal(t, faults.KindServerError, fault.Kind)
	assert.Equal(t, 500, fault.StatusCode)
	assert.True(t, fault.Retryable)
}

func TestRequestAdsRateLimitedCarriesRetryAfter(t *testing.T) {
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set(fasthttp.HeaderRetryAfter, "2")
		ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
	})

	c := newTestClient(t, baseURL, 2*time.Second)

	_, err := c.RequestAds(context.Background(), testRequest())

	require.Error(t, err)
	fault := faults.From(err)
	assert.Equal(t, faults.KindRateLimited, fault.Kind)
	assert.Equal(t, 2*time.Second, fault.RetryAfter)
}

func TestRequestAdsAuthFailure(t *testing.T) {
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})

	c := newTestClient(t, baseURL, 2*time.Second)

	_, err := c.RequestAds(context.Background(), testRequest())

	require.Error(t, err)
	fault := faults.From(err)
	assert.Equal(t, faults.KindAuthFailure, fault.Kind)
	assert.False(t, fault.Retryable)
}

func TestRequestAdsTimeout(t *testing.T) {
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		time.Sleep(500 * time.Millisecond)
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	c := newTestClient(t, baseURL, 50*time.Millisecond)

	start := time.Now()
	_, err := c.RequestAds(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, faults.KindTimeout, faults.From(err).Kind)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "timeout must bound the call")
}

func TestRequestAdsConnectionRefused(t *testing.T) {
	// bind a port and close it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := newTestClient(t, "http://"+addr, time.Second)

	_, err = c.RequestAds(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, faults.KindNetwork, faults.From(err).Kind)
}

func TestRequestAdsAfterClose(t *testing.T) {
	c := NewAdServerClient(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil, &types.ClientConfig{
		BaseURL: "http://127.0.0.1:1",
		APIKey:  "k",
		Timeout: time.Second,
	})
	c.Close()

	_, err := c.RequestAds(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, faults.KindSDKIntegration, faults.From(err).Kind)
}

func TestBreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	c := NewAdServerClient(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil, &types.ClientConfig{
		BaseURL: baseURL,
		APIKey:  "k",
		Timeout: time.Second,
		CircuitBreaker: &types.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			RecoveryTimeout:  time.Minute,
		},
	})
	t.Cleanup(c.Close)

	for i := 0; i < 2; i++ {
		_, err := c.RequestAds(context.Background(), testRequest())
		require.Error(t, err)
	}

	assert.Equal(t, StateBreakerOpen, c.BreakerState())

	_, err := c.RequestAds(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCircuitBreakerOpen)
}

func TestPostReport(t *testing.T) {
	var gotBody atomic.Value
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		gotBody.Store(string(ctx.PostBody()))
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	})

	c := newTestClient(t, baseURL, time.Second)

	err := c.PostReport(context.Background(), baseURL+"/errors", []byte(`{"errors":[]}`))

	require.NoError(t, err)
	assert.Equal(t, `{"errors":[]}`, gotBody.Load())
}

func TestPostReportNon2xx(t *testing.T) {
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})

	c := newTestClient(t, baseURL, time.Second)

	err := c.PostReport(context.Background(), baseURL+"/errors", []byte(`{}`))

	require.Error(t, err)
	fault := faults.From(err)
	assert.Equal(t, faults.KindServerError, fault.Kind)
	assert.Equal(t, 502, fault.StatusCode)
	assert.True(t, fault.Retryable, "a transient report status must stay retryable")
}

func TestRateLimitRetryAfterSurvivesConcurrentTraffic(t *testing.T) {
	// odd requests succeed, even requests are limited; interleaved
	// responses must never cross-contaminate Retry-After
	var served atomic.Int64
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		if served.Add(1)%2 == 0 {
			ctx.Response.Header.Set(fasthttp.HeaderRetryAfter, "3")
			ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"request_id":"r1","ads":[]}`)
	})

	c := newTestClient(t, baseURL, 2*time.Second)

	var wg sync.WaitGroup
	limited := make(chan *faults.Fault, 64)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				_, err := c.RequestAds(context.Background(), testRequest())
				if err == nil {
					continue
				}
				if fault := faults.From(err); fault.Kind == faults.KindRateLimited {
					limited <- fault
				}
			}
		}()
	}
	wg.Wait()
	close(limited)

	seen := 0
	for fault := range limited {
		seen++
		assert.Equal(t, 3*time.Second, fault.RetryAfter)
	}
	assert.NotZero(t, seen, "the alternating handler must rate-limit some calls")
}

func TestRequestAdsRecoversAfterDeadline(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	baseURL := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		if first.Swap(false) {
			time.Sleep(300 * time.Millisecond)
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"request_id":"r1","ads":[]}`)
	})

	c := newTestClient(t, baseURL, 50*time.Millisecond)

	_, err := c.RequestAds(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, faults.KindTimeout, faults.From(err).Kind)

	// the abandoned call must not poison pooled state for later requests
	time.Sleep(400 * time.Millisecond)
	body, err := c.RequestAds(context.Background(), testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r1","ads":[]}`, string(body))
}
