package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/restaurant-notify/internal/model"
	"github.com/jwalitptl/restaurant-notify/pkg/circuitbreaker"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
)

// ErrNotFound is wrapped by errors for 404 responses.
var ErrNotFound = errors.New("not found")

const (
	// maxResponseBytes bounds any single response body.
	maxResponseBytes = 4 << 20
	maxRetryDelay    = 30 * time.Second
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Config struct {
	BaseURL   string
	AuthToken string
	// AuthType prefixes the token in the Authorization header, e.g. Token or Bearer.
	AuthType       string
	Timeout        time.Duration
	MaxRetries     int
	MaxFailures    int
	BreakerTimeout time.Duration
}

// Client talks to the restaurant backend's notification endpoints.
// Calls go through a circuit breaker and retry on HTTP 429 with backoff.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	maxRetries int
	cb         *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewClient(config Config, logger *logger.Logger, metrics *metrics.Metrics) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.AuthType == "" {
		config.AuthType = "Token"
	}

	authHeader := ""
	if config.AuthToken != "" {
		authHeader = config.AuthType + " " + config.AuthToken
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		authHeader: authHeader,
		httpClient: &http.Client{Timeout: config.Timeout},
		maxRetries: config.MaxRetries,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:         "restaurant-api",
			MaxFailures:  config.MaxFailures,
			Timeout:      config.BreakerTimeout,
			IsSuccessful: countsAsSuccess,
		}),
		logger:  logger.Component("restapi"),
		metrics: metrics,
	}
}

// countsAsSuccess keeps client errors (other than 429) from tripping the
// breaker: the backend answered, it just did not like the request.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
			statusErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

type listEnvelope struct {
	Results []model.NotificationRecord `json:"results"`
}

// List fetches the most recent notifications. The backend answers either a
// bare array or a paginated {"results": [...]} envelope.
func (c *Client) List(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	var raw json.RawMessage
	path := "/notifications/?limit=" + strconv.Itoa(limit)
	if err := c.call(ctx, "list", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []model.NotificationRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding notification list: %w", err)
		}
		return records, nil
	}

	var env listEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decoding notification page: %w", err)
	}
	return env.Results, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, "unread_count", http.MethodGet, "/notifications/unread-count/", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead marks one notification read and returns the server's copy.
func (c *Client) MarkRead(ctx context.Context, id int64) (model.NotificationRecord, error) {
	body := map[string]int64{"notification_id": id}
	var raw json.RawMessage
	if err := c.call(ctx, "mark_read", http.MethodPost, "/notifications/mark-read/", body, &raw); err != nil {
		return model.NotificationRecord{}, err
	}

	var rec model.NotificationRecord
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return model.NotificationRecord{}, fmt.Errorf("decoding marked notification: %w", err)
		}
	}
	return rec, nil
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.call(ctx, "mark_all_read", http.MethodPost, "/notifications/mark-all-read/", nil, nil)
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/notifications/%d/", id)
	return c.call(ctx, "delete", http.MethodDelete, path, nil, nil)
}

// WebSocketToken fetches the push channel token. A backend without the
// endpoint (404) yields an empty token and no error.
func (c *Client) WebSocketToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, "websocket_token", http.MethodGet, "/websocket-token/", nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body, result interface{}) error {
	timer := prometheus.NewTimer(c.metrics.RESTLatency.WithLabelValues(op))
	defer timer.ObserveDuration()

	err := c.cb.Execute(func() error {
		return c.do(ctx, method, path, body, result)
	})

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrOpen):
		status = "circuit_open"
	default:
		status = "error"
	}
	c.metrics.RESTOperations.WithLabelValues(op, status).Inc()

	if err != nil {
		c.logger.Debug("REST call failed", "operation", op, "error", err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authHeader != "" {
			req.Header.Set("Authorization", c.authHeader)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}
		if len(respBody) > maxResponseBytes {
			return fmt.Errorf("response from %s %s exceeds %d bytes", method, path, maxResponseBytes)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration honours Retry-After in seconds, otherwise backs off
// exponentially from one second. Either way the wait is capped at thirty.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return min(time.Duration(seconds)*time.Second, maxRetryDelay)
		}
	}
	return min(time.Duration(1<<uint(min(attempt, 5)))*time.Second, maxRetryDelay)
}
