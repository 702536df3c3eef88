// Package esp implements the email service provider capability adapters.
package esp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mailcraft/server/internal/infra/httpclient"
)

// Recorder receives one observation per outbound ESP call.
type Recorder interface {
	RecordESPRequest(esp, operation string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordESPRequest(string, string, bool) {}

// APIError is a non-2xx answer from an ESP API.
type APIError struct {
	ESP     string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.ESP, e.Status, e.Message)
}

// errNotConfigured is returned when an adapter is called without credentials.
var errNotConfigured = errors.New("not configured")

// formatError renders err the same way for every adapter.
func formatError(esp string, err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errNotConfigured):
		return esp + " is not configured"
	case errors.Is(err, httpclient.ErrUpstreamUnavailable):
		return esp + " is temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return esp + " request timed out"
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return esp + " rejected the credentials"
		case http.StatusTooManyRequests:
			return esp + " rate limit exceeded"
		}
		if apiErr.Message != "" {
			return esp + ": " + apiErr.Message
		}
		return fmt.Sprintf("%s returned status %d", esp, apiErr.Status)
	default:
		return esp + ": " + err.Error()
	}
}

// caller performs JSON requests against one ESP API.
type caller struct {
	esp      string
	client   *http.Client
	recorder Recorder
	// errorMessage extracts a readable message from an error body.
	errorMessage func(body []byte) string
}

func (c *caller) do(ctx context.Context, op, method, url string, header http.Header, in, out any) error {
	err := c.roundTrip(ctx, method, url, header, in, out)
	c.recorder.RecordESPRequest(c.esp, op, err == nil)
	return err
}

func (c *caller) roundTrip(ctx context.Context, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if c.errorMessage != nil {
			msg = c.errorMessage(data)
		}
		return &APIError{ESP: c.esp, Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func baseURL(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return strings.TrimRight(configured, "/")
}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
