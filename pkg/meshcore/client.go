/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package meshcore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/carverauto/meshwatch/pkg/logger"
)

const (
	// The companion bridge accepts at most this many connect attempts
	// per dial before the failure is surfaced to the session layer.
	maxDialAttempts = 5

	dialTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	defaultReqTimeout = 30 * time.Second
)

// Commands is the opaque command/response client for the companion
// gateway. Implementations must be safe for interleaved calls: the
// poll cycle and on-demand pings share one client.
type Commands interface {
	GetContacts(ctx context.Context) ([]string, map[string]Contact, error)
	SendLogin(ctx context.Context, contact Contact, password string) error
	SetPath(ctx context.Context, contact Contact, path []byte) error
	ResetPath(ctx context.Context, pubKey string) error
	RequestStatus(ctx context.Context, contact Contact, timeout time.Duration) (*StatusPayload, error)
	RequestTelemetry(ctx context.Context, contact Contact, timeout time.Duration) ([]TelemetrySensor, error)
	Close() error
}

// request/response framing: one JSON object per line in each direction.
type wireRequest struct {
	ID   uint64                 `json:"id"`
	Cmd  string                 `json:"cmd"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type wireResponse struct {
	ID      uint64          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

const (
	respOK      = "ok"
	respError   = "error"
	respTimeout = "timeout"
)

// Client speaks the line-framed JSON companion bridge protocol over
// TCP. The reader goroutine dispatches responses to pending requests
// by id; writes serialize on the write lock.
type Client struct {
	addr   string
	logger logger.Logger

	writeMu sync.Mutex
	conn    net.Conn

	pendingMu sync.Mutex
	pending   map[uint64]chan wireResponse
	nextID    uint64
	closed    bool
}

var _ Commands = (*Client)(nil)

// Dial connects to the companion bridge with bounded retry at the
// transport layer and starts the response reader.
func Dial(ctx context.Context, host string, port int, log logger.Logger) (*Client, error) {
	c := &Client{
		addr:    net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		logger:  log,
		pending: make(map[uint64]chan wireResponse),
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", errConnectFailed, err)
	}

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	dial := func() (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		return d.DialContext(ctx, "tcp", c.addr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxDialAttempts-1), ctx)

	conn, err := backoff.RetryWithData(dial, policy)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	go c.readLoop(conn)

	return nil
}

// readLoop dispatches response lines to their pending requests until
// the connection drops, then fails every in-flight request.
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var resp wireResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed companion frame")
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()

		if ok {
			ch <- resp
		}
	}

	c.pendingMu.Lock()

	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}

	c.pendingMu.Unlock()
}

// Close tears the connection down. Best-effort: never returns an error
// for an already-closed client.
func (c *Client) Close() error {
	c.pendingMu.Lock()
	c.closed = true
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	return nil
}

// roundTrip sends one command and waits for its response or timeout.
func (c *Client) roundTrip(ctx context.Context, cmd string, args map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = defaultReqTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.pendingMu.Lock()

	if c.closed {
		c.pendingMu.Unlock()
		return nil, errClientClosed
	}

	c.nextID++
	id := c.nextID
	ch := make(chan wireResponse, 1)
	c.pending[id] = ch

	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(wireRequest{ID: id, Cmd: cmd, Args: args}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrRequestTimeout
		}

		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}

		switch resp.Type {
		case respOK:
			return resp.Payload, nil
		case respTimeout:
			return nil, ErrRequestTimeout
		case respError:
			return nil, &ProtocolError{Detail: resp.Detail}
		default:
			return nil, &ProtocolError{Detail: fmt.Sprintf("unknown response type %q", resp.Type)}
		}
	}
}

func (c *Client) send(req wireRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	_, err = c.conn.Write(data)

	return err
}

// GetContacts lists reachable contacts as reported by the companion.
func (c *Client) GetContacts(ctx context.Context) ([]string, map[string]Contact, error) {
	payload, err := c.roundTrip(ctx, "get_contacts", nil, defaultReqTimeout)
	if err != nil {
		return nil, nil, err
	}

	return decodeContacts(payload)
}

// SendLogin authenticates against a repeater so it answers status and
// telemetry requests.
func (c *Client) SendLogin(ctx context.Context, contact Contact, password string) error {
	_, err := c.roundTrip(ctx, "send_login", map[string]interface{}{
		"public_key": contact.PublicKey,
		"password":   password,
	}, defaultReqTimeout)

	return err
}

// SetPath pins a custom outbound route for a contact.
func (c *Client) SetPath(ctx context.Context, contact Contact, path []byte) error {
	hops := make([]int, len(path))
	for i, b := range path {
		hops[i] = int(b)
	}

	_, err := c.roundTrip(ctx, "change_contact_path", map[string]interface{}{
		"public_key": contact.PublicKey,
		"path":       hops,
	}, defaultReqTimeout)

	return err
}

// ResetPath reverts a contact to default flood routing.
func (c *Client) ResetPath(ctx context.Context, pubKey string) error {
	_, err := c.roundTrip(ctx, "reset_path", map[string]interface{}{
		"public_key": pubKey,
	}, defaultReqTimeout)

	return err
}

// RequestStatus asks a repeater for its status block.
func (c *Client) RequestStatus(ctx context.Context, contact Contact, timeout time.Duration) (*StatusPayload, error) {
	payload, err := c.roundTrip(ctx, "req_status", map[string]interface{}{
		"public_key": contact.PublicKey,
	}, timeout)
	if err != nil {
		return nil, err
	}

	var status StatusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("bad status payload: %v", err)}
	}

	return &status, nil
}

// RequestTelemetry asks a repeater for its LPP sensor list.
func (c *Client) RequestTelemetry(ctx context.Context, contact Contact, timeout time.Duration) ([]TelemetrySensor, error) {
	payload, err := c.roundTrip(ctx, "req_telemetry", map[string]interface{}{
		"public_key": contact.PublicKey,
	}, timeout)
	if err != nil {
		return nil, err
	}

	var sensors []TelemetrySensor
	if err := json.Unmarshal(payload, &sensors); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("bad telemetry payload: %v", err)}
	}

	return sensors, nil
}
