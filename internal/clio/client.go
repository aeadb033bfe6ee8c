package clio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const userAgent = "datahub/0.1"

// TokenProvider supplies bearer tokens for principals. *TokenCache is the
// production implementation; tests substitute fakes.
type TokenProvider interface {
	GetToken(ctx context.Context, principal string, forceRefresh bool) (string, error)
	Evict(principal string)
}

// Client is an HTTP client for the provider's resource endpoints. It
// attaches a bearer token from the TokenProvider and retries exactly once
// after a forced refresh when the provider answers 401. That is the only
// retry at this layer; transient-failure policy belongs to callers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	logger     *slog.Logger
}

// NewClient creates a provider API client. baseURL is the resource root,
// e.g. "https://app.clio.com/api/v4".
func NewClient(baseURL string, httpClient *http.Client, tokens TokenProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// Do executes a request as the given principal. The body, if any, is sent
// as JSON; it is kept as bytes so the single 401 retry can replay it.
// Responses with any status other than 401 are returned to the caller
// unmodified — business-level error interpretation happens above.
// The caller must close the response body.
func (c *Client) Do(ctx context.Context, principal, method, path string, query url.Values, body []byte) (*http.Response, error) {
	resp, err := c.doOnce(ctx, principal, method, path, query, body, false)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// 401: the cached token was rejected. Evict, force one refresh, and
	// replay the request once. A second 401 goes back to the caller.
	drainBody(resp)
	c.tokens.Evict(principal)

	c.logger.Warn("provider rejected token, refreshing and retrying once",
		slog.String("principal", principal),
		slog.String("method", method),
		slog.String("path", path),
	)

	return c.doOnce(ctx, principal, method, path, query, body, true)
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, principal, method, path string, query url.Values, body []byte, forceRefresh bool) (*http.Response, error) {
	tok, err := c.tokens.GetToken(ctx, principal, forceRefresh)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("clio: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clio: %s %s: %w", method, path, err)
	}

	return resp, nil
}

// getJSON executes a GET, classifies non-2xx statuses into ProviderError,
// and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, principal, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, principal, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// postJSON executes a POST with a JSON body and decodes the response.
func (c *Client) postJSON(ctx context.Context, principal, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("clio: encoding request body: %w", err)
	}

	resp, err := c.Do(ctx, principal, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// decodeResponse classifies the status and decodes a 2xx JSON body.
func decodeResponse(resp *http.Response, out any) error {
	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		return &ProviderError{
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
			Err:        sentinel,
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clio: decoding response: %w", err)
	}

	return nil
}

// maxErrorBody caps how much of an error response body is retained.
const maxErrorBody = 8 << 10

// drainBody discards and closes a response body so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
