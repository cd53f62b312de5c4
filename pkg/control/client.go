// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client sends single requests to a control server. Each call opens its own
// connection.
type Client struct {
	SocketPath string
	Token      string
	Timeout    time.Duration
}

// NewClient creates a client for the socket at path.
func NewClient(path, token string) *Client {
	return &Client{SocketPath: path, Token: token, Timeout: 5 * time.Second}
}

// Set sends "set <value>" for the named hook set. value is passed through
// unvalidated so the daemon reports argument errors.
func (c *Client) Set(ctx context.Context, set, value string) (*Response, error) {
	return c.Do(ctx, &Request{Op: OpSet, Set: set, Args: []string{value}})
}

// Status asks whether the named hook set is active.
func (c *Client) Status(ctx context.Context, set string) (*Response, error) {
	return c.Do(ctx, &Request{Op: OpStatus, Set: set})
}

// Do sends req and returns the daemon's response. Transport failures are
// returned as errors; a non-zero result code is carried in the response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Token == "" {
		req.Token = c.Token
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("dial control socket %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	if err := WriteFrame(conn, MsgRequest, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := ReadFrame(conn, MsgResponse, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	return &resp, nil
}
