package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultTimeout bounds a single inter-node request when no other
// timeout is configured.
const DefaultTimeout = 5 * time.Second

// StatusError is returned when a peer answers with a non-2xx status.
type StatusError struct {
	URL  string
	Body string
	Code int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Body)
}

// Client performs JSON requests against other nodes.
type Client struct {
	http *http.Client
}

// NewClient returns a Client whose requests time out after timeout.
// A non-positive timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON sends body as JSON with POST and decodes the response into out
// when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	return c.sendJSON(ctx, http.MethodPost, url, body, out)
}

// PutJSON is PostJSON with the PUT method.
func (c *Client) PutJSON(ctx context.Context, url string, body any, out any) error {
	return c.sendJSON(ctx, http.MethodPut, url, body, out)
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

// Delete issues a DELETE request and discards the response body.
func (c *Client) Delete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, nil)
}

func (c *Client) sendJSON(ctx context.Context, method, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

// JoinURL appends path segments to base, which may carry its own path
// prefix. It fails for relative or unparsable URIs.
func JoinURL(base string, segments ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parse %q", base)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Newf("uri %q must be absolute", base)
	}
	return u.JoinPath(segments...).String(), nil
}
