package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout applies to ordinary connector requests.
	DefaultTimeout = 30 * time.Second
	// EnumerationTimeout applies to full-library enumerations.
	EnumerationTimeout = 240 * time.Second

	maxAttempts  = 5
	initialDelay = 500 * time.Millisecond
	maxDelay     = 30 * time.Second
)

// Client is the shared HTTP helper all connectors build on. It applies the
// standard timeouts and retries transient failures with jittered
// exponential backoff; auth errors are never retried.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a connector HTTP client. verifySSL=false disables
// certificate checks for self-hosted servers with self-signed certs.
func NewClient(logger zerolog.Logger, verifySSL bool) *Client {
	transport := http.DefaultTransport
	if !verifySSL {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		transport = t
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// Request describes one connector HTTP call.
type Request struct {
	Method      string
	URL         string
	Params      url.Values
	Headers     map[string]string
	Body        []byte
	ContentType string
	// Enumeration raises the timeout to EnumerationTimeout.
	Enumeration bool
}

// Do executes the request with retry and returns the response body.
// A 404 yields (nil, ErrNotFound).
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	timeout := DefaultTimeout
	if req.Enumeration {
		timeout = EnumerationTimeout
	}

	reqURL := req.URL
	if len(req.Params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", req.URL, req.Params.Encode())
	}

	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := c.doOnce(ctx, req, reqURL, timeout)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !Retryable(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		// Full jitter on the exponential delay.
		wait := time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
		c.logger.Warn().Err(err).Str("url", req.URL).
			Int("attempt", attempt).Dur("nextRetryIn", wait).
			Msg("Transient connector error, will retry")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, req Request, reqURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := ClassifyStatus(resp.StatusCode); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug().Str("url", req.URL).Msg("Remote entity not found")
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}
	return body, nil
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) error {
	body, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// PostJSON performs a POST with a JSON body and optionally decodes the
// response into out.
func (c *Client) PostJSON(ctx context.Context, req Request, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req.Method = http.MethodPost
	req.Body = body
	req.ContentType = "application/json"

	respBody, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
