package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is a thin JSON transport used by the hosted analysis
// backends. Failed calls are surfaced to the caller, never retried; the
// caller decides whether to degrade or abort.
type HTTPClient struct {
	Client  *http.Client
	Headers map[string]string
}

// NewHTTPClient creates a client with the given request timeout.
// A zero timeout leaves deadlines to the underlying transport.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client:  &http.Client{Timeout: timeout},
		Headers: map[string]string{},
	}
}

// PostJSON sends body to url and returns the response payload.
// Non-2xx statuses are returned as errors carrying the response body.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(payload))
	}
	return payload, nil
}
