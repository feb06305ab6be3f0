package client

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/faults"
	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

const adRequestPath = "/ads/request"

// AdServerClient is the HTTP transport to the ad-serving backend. Every
// failure it returns is already classified.
type AdServerClient struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	metrics        types.MetricsManager
	client         *fasthttp.Client
	config         *types.ClientConfig
	circuitBreaker *CircuitBreaker
	state          atomic.Value
	requestTimeout time.Duration
}

func NewAdServerClient(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.ClientConfig) *AdServerClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	clientCtx, cancel := context.WithCancel(ctx)

	httpClient := &fasthttp.Client{
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	}

	c := &AdServerClient{
		ctx:            clientCtx,
		cancel:         cancel,
		logger:         logger,
		metrics:        metrics,
		client:         httpClient,
		config:         config,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker, logger),
		requestTimeout: config.Timeout,
	}

	c.state.Store(StateRunning)

	return c
}

// RequestAds posts an ad request and returns the raw 2xx body. Non-2xx
// statuses, transport failures, and timeouts come back as classified
// faults; a deadline hit is Timeout, never generic Network.
func (c *AdServerClient) RequestAds(ctx context.Context, adReq *types.AdRequest) ([]byte, error) {
	if !c.IsRunning() {
		return nil, faults.New(faults.KindSDKIntegration, "ad client is not running", types.ErrClientNotRunning)
	}

	if !c.circuitBreaker.CanExecute() {
		return nil, faults.New(faults.KindNetwork, "circuit breaker open", types.ErrCircuitBreakerOpen)
	}

	payload, err := utils.Marshal(adReq)
	if err != nil {
		return nil, faults.New(faults.KindSDKIntegration, "failed to marshal ad request", err)
	}

	start := time.Now()
	res, err := c.post(ctx, c.config.BaseURL+adRequestPath, payload, nil)
	c.recordRequest(res.status, err, time.Since(start))

	if err != nil {
		c.circuitBreaker.RecordFailure()
		return nil, err
	}

	if res.status < 200 || res.status >= 300 {
		fault := c.statusFault(res)
		if fault.Kind == faults.KindServerError || fault.Kind == faults.KindTimeout {
			c.circuitBreaker.RecordFailure()
		}
		return nil, fault
	}

	c.circuitBreaker.RecordSuccess()
	return res.body, nil
}

// PostReport delivers a fault batch to the reporting endpoint. Failures
// come back classified so the reporter's retry policy can tell transient
// statuses from terminal ones. Implements faults.Transport.
func (c *AdServerClient) PostReport(ctx context.Context, endpoint string, payload []byte) error {
	if !c.IsRunning() {
		return types.ErrClientNotRunning
	}

	res, err := c.post(ctx, endpoint, payload, nil)
	if err != nil {
		return err
	}
	if res.status < 200 || res.status >= 300 {
		return c.statusFault(res)
	}

	return nil
}

func (c *AdServerClient) Close() {
	if !c.transitionState(StateRunning, StateStopping) {
		return
	}

	defer func() {
		c.setState(StateStopped)
		c.cancel()
	}()

	c.logger.Debug("Ad server client closed")
}

func (c *AdServerClient) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *AdServerClient) BreakerState() CircuitBreakerState {
	return c.circuitBreaker.State()
}

// postResult carries everything one call observed, so concurrent calls
// never share response state.
type postResult struct {
	body       []byte
	status     int
	retryAfter time.Duration
}

// post runs the request on its own goroutine so cancellation and the
// request deadline can interrupt it; the loser is abandoned to fasthttp's
// own timeout. The goroutine owns the pooled request and response and
// releases them itself, after DoTimeout has returned.
func (c *AdServerClient) post(ctx context.Context, url string, payload []byte, headers map[string]string) (postResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	type outcome struct {
		res postResult
		err error
	}

	results := make(chan outcome, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.config.APIKey)
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		req.SetBody(payload)

		if doErr := c.client.DoTimeout(req, resp, c.requestTimeout); doErr != nil {
			if doErr == fasthttp.ErrTimeout {
				results <- outcome{err: faults.New(faults.KindTimeout, "ad server request timed out", doErr)}
			} else {
				results <- outcome{err: faults.New(faults.KindNetwork, doErr.Error(), doErr)}
			}
			return
		}

		res := postResult{status: resp.StatusCode()}
		res.body = make([]byte, len(resp.Body()))
		copy(res.body, resp.Body())

		if ra := resp.Header.Peek(fasthttp.HeaderRetryAfter); len(ra) > 0 {
			if seconds, parseErr := strconv.Atoi(string(ra)); parseErr == nil {
				res.retryAfter = time.Duration(seconds) * time.Second
			}
		}

		results <- outcome{res: res}
	}()

	select {
	case out := <-results:
		return out.res, out.err
	case <-callCtx.Done():
		return postResult{}, faults.New(faults.KindTimeout, "ad server call deadline exceeded", callCtx.Err())
	case <-c.ctx.Done():
		return postResult{}, faults.New(faults.KindSDKIntegration, "client shutting down", c.ctx.Err())
	}
}

func (c *AdServerClient) statusFault(res postResult) *faults.Fault {
	message := "HTTP " + strconv.Itoa(res.status)
	if len(res.body) > 0 && len(res.body) <= 256 {
		message += ": " + string(res.body)
	}

	fault := faults.FromStatus(res.status, message)
	if fault.Kind == faults.KindRateLimited {
		fault.RetryAfter = res.retryAfter
	}

	return fault
}

func (c *AdServerClient) recordRequest(status int, err error, duration time.Duration) {
	if c.metrics == nil {
		return
	}

	result := "success"
	if err != nil || status < 200 || status >= 300 {
		result = "error"
	}

	c.metrics.Counter("ad_client_requests_total", map[string]string{
		"result": result,
	}).Inc()

	c.metrics.Histogram("ad_client_request_duration_seconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		nil,
	).Observe(duration.Seconds())

	c.logger.Debug("Ad server request finished",
		zap.Int("status", status),
		zap.String("result", result),
		zap.Duration("duration", duration))
}

// ReportTransport binds the client to a fixed reporting endpoint so it
// satisfies faults.Transport.
type ReportTransport struct {
	client   *AdServerClient
	endpoint string
}

func NewReportTransport(client *AdServerClient, endpoint string) *ReportTransport {
	return &ReportTransport{
		client:   client,
		endpoint: endpoint,
	}
}

func (t *ReportTransport) PostReport(ctx context.Context, payload []byte) error {
	return t.client.PostReport(ctx, t.endpoint, payload)
}

func (c *AdServerClient) getState() State {
	return c.state.Load().(State)
}

func (c *AdServerClient) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *AdServerClient) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
