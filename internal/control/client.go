// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// DefaultClientTimeout bounds a single control request. Stop drains live
// connections, so it needs more than a status query.
const DefaultClientTimeout = 30 * time.Second

// Client talks to a Server over its Unix socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	var d net.Dialer
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: DefaultClientTimeout,
		},
	}
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Status returns the daemon state.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &resp)
	return resp, err
}

// Start asks the daemon to listen on ip:port.
func (c *Client) Start(ctx context.Context, ip string, port int) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodPost, "/start", StartRequest{IP: ip, Port: port}, &resp)
	return resp, err
}

// Stop asks the daemon to stop listening and drain its connections.
func (c *Client) Stop(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodPost, "/stop", nil, &resp)
	return resp, err
}

// Shutdown asks the serving process to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	var resp ShutdownResponse
	return c.do(ctx, http.MethodPost, "/shutdown", nil, &resp)
}

// do sends one request. Transport failures become CONTROL_UNAVAILABLE;
// error replies keep the server's code and message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return oops.Wrapf(err, "failed to encode request")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://telnetd"+path, reqBody)
	if err != nil {
		return oops.Wrapf(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code(CodeUnavailable).
			With("path", c.socketPath).
			Wrapf(err, "control socket unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Code == "" {
			return oops.With("status", resp.StatusCode).Errorf("unexpected control response %s", resp.Status)
		}
		return oops.Code(e.Code).With("status", resp.StatusCode).Errorf("%s", e.Message)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.Wrapf(err, "failed to decode control response")
	}
	return nil
}
