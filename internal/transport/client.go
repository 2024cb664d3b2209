// Package transport provides the outbound REST client used by the batch
// sync engine. It knows nothing about the batch protocols; callers hand
// it a fully built request and interpret the response themselves.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout = 30 * time.Second

	// maxSendAttempts bounds retries of transient connection errors
	// within one Send call. HTTP responses are never retried here; a
	// whole-tick failure is retried by the scheduler on the next fire.
	maxSendAttempts = 3

	userAgent = "crosspost-server"
)

// Request is one outbound REST call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Timeout bounds the whole call including retries. Zero means the
	// client default.
	Timeout time.Duration
}

// Response is the remote's answer. Any received status code is returned
// to the caller; only transport-level failures surface as errors.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client sends REST requests to remote sites.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

type defaultClient struct {
	httpClient *http.Client
}

// NewDefaultClient creates a Client with the given default timeout.
// A zero timeout selects the 30 second default.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &defaultClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send performs the request. Transient connection errors are retried with
// exponential backoff; the context deadline still bounds the whole call.
func (c *defaultClient) Send(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.httpClient.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operation := func() (*Response, error) {
		resp, err := c.sendOnce(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxSendAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	return resp, nil
}

func (c *defaultClient) sendOnce(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
	}, nil
}
