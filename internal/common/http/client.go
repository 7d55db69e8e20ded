// Package http is a thin JSON client over net/http that maps non-2xx
// responses into the shared error taxonomy.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "assessment-sync/internal/common/errors"
)

const maxErrorBody = 64 << 10

type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

// NewClient builds a client. Per-request deadlines come from the caller's
// context; timeout is only the transport-level ceiling.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers:    make(map[string]string),
	}
}

// WithBaseURL returns a copy of c that resolves relative paths against base.
func (c *Client) WithBaseURL(base string) *Client {
	out := c.clone()
	out.baseURL = strings.TrimRight(base, "/")
	return out
}

// WithHeader returns a copy of c that sends key on every request.
func (c *Client) WithHeader(key, value string) *Client {
	out := c.clone()
	out.headers[key] = value
	return out
}

// WithTransport swaps the round tripper, mainly for tests.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	out := c.clone()
	hc := *c.httpClient
	hc.Transport = rt
	out.httpClient = &hc
	return out
}

func (c *Client) clone() *Client {
	h := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		h[k] = v
	}
	return &Client{httpClient: c.httpClient, baseURL: c.baseURL, headers: h}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req.WithContext(ctx))
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// DoJSON sends in (if non-nil) as the JSON body and decodes a 2xx response
// into out (if non-nil). Network failures become NETWORK_TIMEOUT, other
// round-trip failures INTERNAL_ERROR, and non-2xx statuses go through
// errors.FromHTTPStatus.
func (c *Client) DoJSON(ctx context.Context, operation, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return apperrors.NewInternalError(fmt.Errorf("encode %s request: %w", operation, err))
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("build %s request: %w", operation, err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var eb errorBody
		if json.Unmarshal(raw, &eb) != nil {
			eb.Details = strings.TrimSpace(string(raw))
		}
		return apperrors.FromHTTPStatus(operation, resp.StatusCode, eb.Message, eb.Details)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return apperrors.NewNetworkTimeoutError(operation, ctx.Err())
		}
		return apperrors.NewServiceError(operation, resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

// transportError classifies a failed round trip. *url.Error satisfies
// net.Error itself, so the wrapped cause decides.
func transportError(ctx context.Context, operation string, err error) error {
	if ctx.Err() != nil {
		return apperrors.NewNetworkTimeoutError(operation, err)
	}
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return apperrors.NewNetworkTimeoutError(operation, err)
		}
		cause = urlErr.Err
	}
	var netErr net.Error
	if errors.As(cause, &netErr) || errors.Is(cause, io.EOF) || errors.Is(cause, io.ErrUnexpectedEOF) {
		return apperrors.NewNetworkTimeoutError(operation, err)
	}
	return apperrors.NewInternalError(fmt.Errorf("%s request: %w", operation, err))
}
