package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"SoakGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// userAgent identifies SoakGate on the wire.
const userAgent = "SoakGate/1.0"

// defaultDownstreamTimeout bounds a single downstream invocation when the
// config does not say otherwise. The breaker applies its own CallTimeout on
// top via the request context.
const defaultDownstreamTimeout = 10 * time.Second

// StatusError reports a non-2xx response from the downstream dependency.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream returned status %d: %s", e.Code, e.Body)
}

// DownstreamClient invokes the wrapped downstream dependency over HTTP.
// Payloads are forwarded verbatim; the response body is returned verbatim.
type DownstreamClient struct {
	addr   string
	client *http.Client
	logger *log.Helper
}

// NewDownstreamClient creates a client for the configured downstream
// endpoint. An empty addr yields a client whose invocations always fail as
// unavailable; deployments embedding the core as a library supply their own
// downstream function instead.
func NewDownstreamClient(c *conf.Data, logger log.Logger) *DownstreamClient {
	helper := log.NewHelper(logger)

	timeout := defaultDownstreamTimeout
	addr := ""
	if c != nil && c.Downstream != nil {
		addr = c.Downstream.Addr
		if c.Downstream.Timeout != nil && c.Downstream.Timeout.AsDuration() > 0 {
			timeout = c.Downstream.Timeout.AsDuration()
		}
	}

	if addr == "" {
		helper.Warn("downstream addr not configured, direct invocations will fail as unavailable")
	}

	return &DownstreamClient{
		addr: addr,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: helper,
	}
}

// Invoke forwards one payload to the downstream endpoint.
func (c *DownstreamClient) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if c.addr == "" {
		return nil, fmt.Errorf("downstream endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build downstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
