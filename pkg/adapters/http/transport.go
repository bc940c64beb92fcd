// Package http implements the outbound Transport port over the delivery
// service's REST API. It classifies failures so the proxy can tell a
// dead network (fall back offline) from a server that answered with an
// error (surface to the caller).
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oat-sa/tao-offline-runner/internal/logging"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// Client implements ports.Transport against the QTI runner service.
type Client struct {
	base         string
	hc           *http.Client
	headers      map[string]string
	probeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (timeouts, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithHeader adds a header to every request (e.g. a session token).
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithProbeTimeout bounds the reachability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) { c.probeTimeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a transport for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:         strings.TrimRight(baseURL, "/"),
		hc:           &http.Client{Timeout: 30 * time.Second},
		headers:      make(map[string]string),
		probeTimeout: 2 * time.Second,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts the payload to the named endpoint and decodes the
// authoritative response. Failures come back as either
// *domain.ConnectivityError (server unreachable, gateway down, timeout)
// or *domain.ServerError / *domain.UnrecoverableError (server answered).
func (c *Client) Send(ctx context.Context, endpoint string, payload any) (*domain.ServerResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		c.logger.Debug("transport failure", "endpoint", endpoint, "err", err)
		return nil, &domain.ConnectivityError{Op: endpoint, Err: err}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusBadGateway,
		res.StatusCode == http.StatusServiceUnavailable,
		res.StatusCode == http.StatusGatewayTimeout:
		// A dead gateway in front of the service is indistinguishable
		// from a dead network for our purposes.
		return nil, &domain.ConnectivityError{
			Op:  endpoint,
			Err: fmt.Errorf("gateway answered %d", res.StatusCode),
		}
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, &domain.UnrecoverableError{
			Code:    res.StatusCode,
			Message: readMessage(res.Body),
		}
	case res.StatusCode != http.StatusOK:
		return nil, &domain.ServerError{
			Code:    res.StatusCode,
			Message: readMessage(res.Body),
		}
	}

	var decoded domain.ServerResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &decoded, nil
}

// Probe performs the lightweight reachability check against the "up"
// telemetry endpoint. Any failure, timeouts included, is a connectivity
// error, never a silent success.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/up", nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return &domain.ConnectivityError{Op: "up", Err: err}
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body) //nolint:errcheck // drain for keep-alive

	if res.StatusCode != http.StatusOK {
		return &domain.ConnectivityError{
			Op:  "up",
			Err: fmt.Errorf("probe answered %d", res.StatusCode),
		}
	}
	return nil
}

func readMessage(r io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&payload); err != nil || payload.Message == "" {
		return "request rejected"
	}
	return payload.Message
}
