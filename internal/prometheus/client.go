// Package prometheus issues instant queries against a Prometheus-compatible HTTP API
// and reduces each response to a single scalar.
package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/version"
)

const maxErrorBody = 512

// Querier evaluates an instant query at a point in time
type Querier interface {
	Query(ctx context.Context, expr string, at time.Time) (float64, error)
}

// Config represents Prometheus client configuration
type Config struct {
	URL          string
	Timeout      string
	MaxRetries   int
	RetryBackoff string
	QPS          float64
}

// Client represents a client for querying Prometheus
type Client struct {
	logger     *zap.Logger
	baseURL    string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	client     *http.Client
}

// Response represents a response from the instant query endpoint
type Response struct {
	Status string `json:"status"`
	Data   Data   `json:"data"`
}

// Data represents the data section of a Prometheus response
type Data struct {
	ResultType string   `json:"resultType"`
	Result     []Result `json:"result"`
}

// Result represents a single vector element
type Result struct {
	Metric map[string]string `json:"metric"`
	Value  []interface{}     `json:"value"`
}

// NewClient creates a new Prometheus client
func NewClient(logger *zap.Logger, config Config) (*Client, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prometheus URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("prometheus URL must be an absolute http(s) URL: %q", config.URL)
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	var backoff time.Duration
	if config.RetryBackoff != "" {
		backoff, err = time.ParseDuration(config.RetryBackoff)
		if err != nil {
			return nil, fmt.Errorf("invalid retry backoff duration: %w", err)
		}
	}

	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}

	var limiter *rate.Limiter
	if config.QPS > 0 {
		burst := int(math.Ceil(config.QPS))
		limiter = rate.NewLimiter(rate.Limit(config.QPS), burst)
	}

	return &Client{
		logger:     logger,
		baseURL:    strings.TrimSuffix(config.URL, "/"),
		timeout:    timeout,
		maxRetries: config.MaxRetries,
		backoff:    backoff,
		limiter:    limiter,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Query evaluates expr at the given instant and returns the first result's value.
// Failures are returned as *BackendError.
func (c *Client) Query(ctx context.Context, expr string, at time.Time) (float64, error) {
	var lastErr *BackendError

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(attempt)
			c.logger.Debug("Retrying prometheus query",
				zap.String("query", expr),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			if err := sleepWithContext(ctx, wait); err != nil {
				return 0, unreachable(expr, err)
			}
		}

		start := time.Now()
		value, err := c.query(ctx, expr, at)
		if err == nil {
			metrics.RecordBackendQuery("ok", time.Since(start))
			return value, nil
		}
		metrics.RecordBackendQuery(err.Kind.String(), time.Since(start))

		lastErr = err
		if !err.Retryable() {
			break
		}
	}

	return 0, lastErr
}

func (c *Client) query(ctx context.Context, expr string, at time.Time) (float64, *BackendError) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, unreachable(expr, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", expr)
	params.Set("time", strconv.FormatInt(at.Unix(), 10))
	u := c.baseURL + "/api/v1/query?" + params.Encode()

	c.logger.Debug("Querying Prometheus",
		zap.String("query", expr),
		zap.Time("time", at))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, unreachable(expr, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, unreachable(expr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, httpStatus(expr, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, unreachable(expr, fmt.Errorf("failed to read response body: %w", err))
	}

	return parseScalar(expr, body)
}

// parseScalar extracts data.result[0].value[1]; every other shape is NoData.
// A missing status is accepted, an explicit non-success status is not.
func parseScalar(expr string, body []byte) (float64, *BackendError) {
	var promResp Response
	if err := json.Unmarshal(body, &promResp); err != nil {
		return 0, noData(expr, fmt.Sprintf("failed to unmarshal prometheus response: %v", err))
	}

	if promResp.Status != "" && promResp.Status != "success" {
		return 0, noData(expr, fmt.Sprintf("status %q", promResp.Status))
	}

	if len(promResp.Data.Result) == 0 {
		return 0, noData(expr, "empty result")
	}

	pair := promResp.Data.Result[0].Value
	if len(pair) != 2 {
		return 0, noData(expr, fmt.Sprintf("value has %d elements", len(pair)))
	}

	raw, ok := pair[1].(string)
	if !ok {
		return 0, noData(expr, "value is not a string")
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, noData(expr, fmt.Sprintf("unparsable value %q", raw))
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, noData(expr, fmt.Sprintf("non-finite value %q", raw))
	}

	return value, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
