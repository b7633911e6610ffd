package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of an upstream body we buffer.
const maxResponseBytes = 16 << 20

// HTTPCaller performs single-attempt JSON-RPC POSTs against upstream
// endpoints over a shared keep-alive transport, with a per-endpoint token
// bucket so one chatty proxy instance cannot burn a provider's quota.
type HTTPCaller struct {
	client   *http.Client
	limiters map[string]*rate.Limiter
	timeout  time.Duration
	metrics  *Metrics
}

func NewHTTPCaller(urls []string, timeout time.Duration, rps float64) *HTTPCaller {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	limiters := make(map[string]*rate.Limiter, len(urls))
	for _, url := range urls {
		if rps <= 0 {
			limiters[url] = rate.NewLimiter(rate.Inf, 0)
		} else {
			limiters[url] = rate.NewLimiter(rate.Limit(rps), int(rps*2)+1)
		}
	}

	return &HTTPCaller{
		client:   &http.Client{Transport: transport},
		limiters: limiters,
		timeout:  timeout,
		metrics:  GetMetrics(),
	}
}

// Call posts body to the endpoint and returns its raw response. One attempt,
// no retries. Non-2xx statuses and unreadable bodies are call failures.
func (c *HTTPCaller) Call(ctx context.Context, endpointID string, body []byte) (*RawResponse, error) {
	lim := c.limiters[endpointID]
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpointID, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	label := MaskURL(endpointID)
	c.metrics.UpstreamRequestsTotal.WithLabelValues(label).Inc()

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.UpstreamFailures.WithLabelValues(label).Inc()
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	latency := time.Since(start)
	c.metrics.UpstreamLatency.WithLabelValues(label).Observe(latency.Seconds())
	if err != nil {
		c.metrics.UpstreamFailures.WithLabelValues(label).Inc()
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.UpstreamFailures.WithLabelValues(label).Inc()
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Body:       data,
		Latency:    latency,
	}, nil
}
