// Package remote contains the HTTP plumbing shared by every client of the
// voice and scoring services: a Doer abstraction, a typed API error, a
// circuit breaker and small JSON helpers.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Doer is satisfied by *http.Client and by Breaker.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned when a service answered with a non-2xx status.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Body)
}

const maxErrorBody = 512

// CheckStatus converts a non-2xx response into an *APIError and closes its body.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
}

// Endpoint joins a base URL and a path without doubling slashes.
func Endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Header is applied to every outgoing request (auth tokens and the like).
type Header func(*http.Request)

func Bearer(token string) Header {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx reply into out
// (when non-nil).
func DoJSON(ctx context.Context, d Doer, service, method, url string, in, out any, headers ...Header) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", service, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", service, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, h := range headers {
		h(req)
	}

	resp, err := d.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	if err := CheckStatus(service, resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
