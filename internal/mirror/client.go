package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adrifthq/adrift/internal/storage"
)

// TransportError wraps a mirror call failure: unreachable host, timeout
// or an unexpected status. Callers fall back to a safe default instead
// of propagating it to the UI.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("mirror %s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("mirror %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to the usage mirror API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a mirror client with a fixed per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetUsage fetches a device's record, creating a default one server
// side on first access.
func (c *Client) GetUsage(ctx context.Context, deviceID string) (*storage.UsageRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/usage/%s", c.baseURL, deviceID), nil)
	if err != nil {
		return nil, &TransportError{Op: "get", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "get", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "get", Status: resp.StatusCode}
	}

	var rec storage.UsageRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, &TransportError{Op: "get", Err: err}
	}
	return &rec, nil
}

// Debit applies a token debit. storage.ErrQuotaExceeded is returned
// when the mirror rejects the debit for exceeding the limit.
func (c *Client) Debit(ctx context.Context, deviceID string, tokens int) (*storage.UsageRecord, error) {
	payload, err := json.Marshal(map[string]int{"tokens": tokens})
	if err != nil {
		return nil, &TransportError{Op: "debit", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/usage/%s", c.baseURL, deviceID), bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Op: "debit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "debit", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var rec storage.UsageRecord
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return nil, &TransportError{Op: "debit", Err: err}
		}
		return &rec, nil
	case http.StatusBadRequest:
		var qerr quotaError
		if err := json.NewDecoder(resp.Body).Decode(&qerr); err == nil && qerr.Limit > 0 {
			return nil, storage.ErrQuotaExceeded
		}
		return nil, &TransportError{Op: "debit", Status: resp.StatusCode}
	default:
		return nil, &TransportError{Op: "debit", Status: resp.StatusCode}
	}
}
