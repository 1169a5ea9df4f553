// Package estimator talks to the external volume-estimation service.
package estimator

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
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const maxErrorBody = 1 << 10

// HTTPError is returned when the estimator answers with a non-2xx status.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("estimator %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// StatusResponse is the estimator's view of one request.
type StatusResponse struct {
	RequestID       int64    `json:"requestId"`
	Status          string   `json:"status"`
	EstimatedVolume *float64 `json:"estimatedVolume,omitempty"`
}

// Terminal reports whether the status ends polling.
func (s StatusResponse) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Client is the HTTP estimator client.
type Client struct {
	enqueueURL string
	statusURL  string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client; statusURL is the prefix the request id is appended to.
func NewClient(enqueueURL, statusURL, apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(enqueueURL) == "" {
		return nil, errors.New("ESTIMATOR_ENQUEUE_URL is required")
	}
	if strings.TrimSpace(statusURL) == "" {
		return nil, errors.New("ESTIMATOR_STATUS_URL is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		enqueueURL: strings.TrimSpace(enqueueURL),
		statusURL:  strings.TrimRight(strings.TrimSpace(statusURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Enqueue forwards the capture payload and returns the numeric request id.
func (c *Client) Enqueue(ctx context.Context, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("estimator enqueue marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.enqueueURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := c.do(req, "enqueue")
	if err != nil {
		return 0, err
	}

	var parsed struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("estimator enqueue parse: %w", err)
	}
	id, err := parseRequestID(parsed.RequestID)
	if err != nil {
		return 0, fmt.Errorf("estimator enqueue parse: %w", err)
	}
	return id, nil
}

// Status fetches the current state of requestID.
func (c *Client) Status(ctx context.Context, requestID int64) (StatusResponse, error) {
	url := c.statusURL + "/" + strconv.FormatInt(requestID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	raw, err := c.do(req, "status")
	if err != nil {
		return StatusResponse{}, err
	}
	var parsed StatusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return StatusResponse{}, fmt.Errorf("estimator status parse: %w", err)
	}
	parsed.Status = strings.ToUpper(strings.TrimSpace(parsed.Status))
	if parsed.Status == "" {
		return StatusResponse{}, errors.New("estimator status parse: missing status")
	}
	return parsed, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, fmt.Errorf("estimator %s timeout: %w", op, err)
		}
		return nil, fmt.Errorf("estimator %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("estimator %s read: %w", op, err)
	}
	return body, nil
}

// parseRequestID accepts a JSON number or a numeric string.
func parseRequestID(raw json.RawMessage) (int64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, errors.New("missing requestId")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		trimmed = strings.TrimSpace(s)
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("requestId %q is not an integer", trimmed)
	}
	return id, nil
}
