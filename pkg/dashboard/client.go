// Package dashboard is a client for the batch upgrade API served by the CSI
// dashboard.
package dashboard

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

	"golang.org/x/oauth2"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// ErrNotFound is returned when the requested job doesn't exist.
var ErrNotFound = upgrade.ErrJobNotFound

// APIError is a non-2xx response from the dashboard.
type APIError struct {
	StatusCode int
	Message    string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("dashboard returned %d: %s", err.StatusCode, err.Message)
}

// maxErrorLen bounds how much of an error body is kept.
const maxErrorLen = 500

// Client talks to the dashboard's REST and WebSocket endpoints.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  oauth2.TokenSource
}

// NewClient returns a client for the dashboard at baseURL. If token is
// non-empty, it's sent as a bearer token with every request.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.WithContext("parse dashboard url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewFriendlyError(
			"dashboard url must start with http:// or https://, got %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	if token != "" {
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		c.http.Transport = &oauth2.Transport{Source: c.tokens}
	}
	return c, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path += path
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes the JSON response into out, if it's
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	respBody, err := c.doRaw(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.WithContext("decode response", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WithContext("marshal request", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), bodyReader)
	if err != nil {
		return nil, errors.WithContext("create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithContext(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithContext("read response", err)
	}

	return respBody, checkStatus(resp.StatusCode, respBody)
}

func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if code == http.StatusNotFound {
		return ErrNotFound
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return &APIError{StatusCode: code, Message: msg}
}
