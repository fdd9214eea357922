// Package connection provides connection management for clipmesh-cli.
package connection

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/server/wireserver"
)

// WireClient is a client for the relay wire protocol. It multiplexes one
// long-lived TCP connection: requests get an id and wait for the matching
// ack or err; unsolicited events read while waiting are queued and can be
// drained with NextEvent.
type WireClient struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	mu     sync.Mutex
	seq    int
	events []*wireserver.Envelope
}

// Dial connects to a relay at addr.
func Dial(addr string, timeout time.Duration) (*WireClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewWireClient(conn), nil
}

// NewWireClient wraps an established connection.
func NewWireClient(conn net.Conn) *WireClient {
	return &WireClient{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
}

// Close closes the connection.
func (c *WireClient) Close() error {
	return c.conn.Close()
}

// Request sends one request envelope and blocks until the matching ack or
// err arrives. Events received in the meantime are queued for NextEvent.
func (c *WireClient) Request(ctx context.Context, msgType string, body any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := fmt.Sprintf("cli-%04d", c.seq)

	if err := c.writeLocked(&wireserver.Envelope{Type: msgType, ID: id, Data: mustRaw(body)}); err != nil {
		return nil, err
	}

	for {
		env, err := c.readLocked(ctx)
		if err != nil {
			return nil, err
		}
		if env.ID != id {
			// Unsolicited event, keep it for the caller.
			c.events = append(c.events, env)
			continue
		}
		switch env.Type {
		case wireserver.TypeAck:
			return env.Data, nil
		case wireserver.TypeError:
			var eb wireserver.ErrorBody
			if err := json.Unmarshal(env.Data, &eb); err == nil && eb.Message != "" {
				return nil, fmt.Errorf("[%s] %s", eb.Code, eb.Message)
			}
			return nil, fmt.Errorf("request %s failed", msgType)
		default:
			return nil, fmt.Errorf("unexpected reply type %q", env.Type)
		}
	}
}

// Send writes one envelope without waiting for a reply. Used for pong,
// which the protocol leaves unacknowledged.
func (c *WireClient) Send(msgType string, body any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(&wireserver.Envelope{Type: msgType, Data: mustRaw(body)})
}

// NextEvent returns the next event envelope, draining the queue before
// reading from the connection. It blocks until an event arrives, the
// context deadline passes, or the connection fails.
func (c *WireClient) NextEvent(ctx context.Context) (*wireserver.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) > 0 {
		env := c.events[0]
		c.events = c.events[1:]
		return env, nil
	}
	for {
		env, err := c.readLocked(ctx)
		if err != nil {
			return nil, err
		}
		// Replies without a waiting request are dropped.
		if env.Type == wireserver.TypeAck || env.Type == wireserver.TypeError {
			continue
		}
		return env, nil
	}
}

func (c *WireClient) writeLocked(env *wireserver.Envelope) error {
	if err := wireserver.WriteEnvelope(c.bw, env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return c.bw.Flush()
}

func (c *WireClient) readLocked(ctx context.Context) (*wireserver.Envelope, error) {
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return wireserver.ReadEnvelope(c.br)
}

func mustRaw(body any) json.RawMessage {
	if body == nil {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		// Request bodies are plain maps and structs; this cannot fail
		// for any body the CLI builds.
		panic(err)
	}
	return raw
}
