package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sentinel conditions decoded from the daemon's error envelope. Match
// with errors.Is.
var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
)

// APIError is a non-2xx response decoded from the daemon's error envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Is matches the well-known daemon errors by their envelope message so
// callers can branch without string comparison.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAlreadyRunning, ErrNotRunning:
		return e.Message == target.Error()
	}
	return false
}

// Client provides HTTP client functionality to communicate with the warden daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 10 * time.Second,
	}
}

// New creates a new warden API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var health HealthInfo
	if err := c.get(ctx, "/health", &health); err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return health.Status == "healthy"
}

// Health returns the daemon's own liveness information.
func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	var out HealthInfo
	err := c.get(ctx, "/health", &out)
	return out, err
}

// Status returns the aggregated outcome statistics and process state.
func (c *Client) Status(ctx context.Context) (StatusReport, error) {
	var out StatusReport
	err := c.get(ctx, "/status", &out)
	return out, err
}

// Start spawns the worker. errors.Is(err, ErrAlreadyRunning) reports a
// rejected duplicate start.
func (c *Client) Start(ctx context.Context) (StartResult, error) {
	c.logger.Debug("starting worker")
	var out StartResult
	err := c.post(ctx, "/start", nil, &out)
	return out, err
}

// Stop terminates the worker. errors.Is(err, ErrNotRunning) reports that
// nothing was running.
func (c *Client) Stop(ctx context.Context) (StopResult, error) {
	c.logger.Debug("stopping worker")
	var out StopResult
	err := c.post(ctx, "/stop", nil, &out)
	return out, err
}

// IsRunning returns the reconciled process state.
func (c *Client) IsRunning(ctx context.Context) (RunningInfo, error) {
	var out RunningInfo
	err := c.get(ctx, "/is_running", &out)
	return out, err
}

// Log returns the tail of the worker log. lines <= 0 requests the
// server default.
func (c *Client) Log(ctx context.Context, lines int) (LogChunk, error) {
	path := "/log"
	if lines > 0 {
		path = fmt.Sprintf("/log?lines=%d", lines)
	}
	var out LogChunk
	err := c.get(ctx, path, &out)
	return out, err
}

// ReportOutcome records a worker outcome through the daemon.
func (c *Client) ReportOutcome(ctx context.Context, req OutcomeRequest) error {
	c.logger.Debug("reporting outcome", "result", req.Result, "identifier", req.Identifier)
	return c.post(ctx, "/outcomes", req, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do performs the request and decodes either the error envelope or the
// expected response body.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	var envelope ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == "" {
		c.logger.Debug("undecodable error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", envelope.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
}
