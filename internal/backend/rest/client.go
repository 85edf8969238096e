// Package rest holds the request plumbing shared by the hosted backend adapters.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
)

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues JSON requests against one backend base URL.
type Client struct {
	name   string
	base   *url.URL
	apiKey string
	client HTTPClient
}

// New constructs a Client. name prefixes every error operation.
func New(name, baseURL, apiKey string, client HTTPClient) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%s: base URL is required", name)
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%s: parse base URL: %w", name, err)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		name:   name,
		base:   parsed,
		apiKey: strings.TrimSpace(apiKey),
		client: client,
	}, nil
}

// APIKey returns the anonymous project key.
func (c *Client) APIKey() string {
	return c.apiKey
}

// Op builds an operation label for errors.
func (c *Client) Op(action string) string {
	return c.name + "." + action
}

// NewRequest builds a request with the project key and an optional bearer token. An empty
// token falls back to the project key, as the hosted gateway expects.
func (c *Client) NewRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint, query), body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token == "" {
		token = c.apiKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// NewJSONRequest encodes payload as the request body.
func (c *Client) NewJSONRequest(ctx context.Context, method, endpoint string, query url.Values, payload any, token string) (*http.Request, error) {
	var buf bytes.Buffer
	if payload != nil {
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", c.name, err)
		}
	}
	req, err := c.NewRequest(ctx, method, endpoint, query, &buf, token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Do sends req. Transport failures are reported as a temporary *auth.BackendError.
func (c *Client) Do(req *http.Request, action string) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &auth.BackendError{Op: c.Op(action), Err: err}
	}
	return resp, nil
}

// Decode reads a JSON body into out and closes it.
func (c *Client) Decode(resp *http.Response, action string, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode %s: %w", c.name, action, err)
	}
	return nil
}

// Discard drains and closes a response body.
func Discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

func (c *Client) resolve(endpoint string, query url.Values) string {
	trimmed := strings.TrimPrefix(endpoint, "/")
	ref := &url.URL{Path: trimmed}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

// errorPayload covers both the identity API and the relational API error shapes.
type errorPayload struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
}

// ErrorFromResponse converts a non-2xx response into an *auth.BackendError and closes the body.
func (c *Client) ErrorFromResponse(resp *http.Response, action string) *auth.BackendError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()

	backendErr := &auth.BackendError{Op: c.Op(action), Status: resp.StatusCode}
	if len(body) == 0 {
		return backendErr
	}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		backendErr.Message = strings.TrimSpace(string(body))
		return backendErr
	}
	backendErr.Code = firstNonEmpty(payload.ErrorCode, codeString(payload.Code), payload.Error)
	backendErr.Message = firstNonEmpty(payload.Message, payload.Msg, payload.ErrorDescription, payload.Details)
	return backendErr
}

// codeString accepts codes encoded either as JSON strings or numbers.
func codeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
