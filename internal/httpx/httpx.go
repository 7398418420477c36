// Package httpx sends the JSON requests made to external gateways.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/recon/retry"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Request describes one HTTP call
type Request struct {
	URL         string
	Method      string // default POST
	Headers     map[string]string
	JSONPayload any
}

// Response is a successful (2xx) HTTP response
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// NewClient returns an HTTP client with the given timeout, defaulting to 30s.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Do sends the request. Non-2xx responses are returned as *retry.StatusError
// so callers can decide whether to retry.
func Do(ctx context.Context, client *http.Client, params Request) (*Response, error) {
	if params.URL == "" {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("URL cannot be empty"))
	}
	if params.Method == "" {
		params.Method = http.MethodPost
	}

	var bodyReader io.Reader
	if params.JSONPayload != nil {
		jsonData, err := json.Marshal(params.JSONPayload)
		if err != nil {
			return nil, retry.NewNonRecoverableError(fmt.Errorf("failed to marshal JSON payload: %w", err))
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(params.Method), params.URL, bodyReader)
	if err != nil {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("failed to create request: %w", err))
	}
	for key, value := range params.Headers {
		req.Header.Set(key, value)
	}
	if params.JSONPayload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, retry.NewRecoverableError(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.NewRecoverableError(fmt.Errorf("failed to read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := strings.TrimSpace(string(respBody))
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: body}
	}

	output := &Response{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string),
		Body:       respBody,
	}
	for key, values := range resp.Header {
		if len(values) > 0 {
			output.Headers[key] = values[0]
		}
	}
	return output, nil
}
