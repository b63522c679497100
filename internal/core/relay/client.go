package relay

import (
	"errors"
	"sync"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/transport"
)

// maxBacklog bounds the live events held back while a client is replaying.
const maxBacklog = 1024

var errBacklogFull = errors.New("relay: replay backlog full")

// Client is a registered connection. Live events delivered while the
// initial replay is still being written are held back and flushed after
// it, so a new client sees the replay before any live event.
type Client struct {
	transport.Conn
	kind string

	mu        sync.Mutex
	replaying bool
	backlog   []string
	closeOnce sync.Once
}

// NewClient wraps conn. kind names the transport for status output.
func NewClient(conn transport.Conn, kind string) *Client {
	return &Client{Conn: conn, kind: kind, replaying: true}
}

// Deliver writes a data message to the client, or holds it back while
// the client is replaying.
func (c *Client) Deliver(msg queue.Message) error {
	c.mu.Lock()
	if c.replaying {
		defer c.mu.Unlock()
		if len(c.backlog) >= maxBacklog {
			return errBacklogFull
		}
		c.backlog = append(c.backlog, msg.Line)
		return nil
	}
	c.mu.Unlock()
	return c.WriteLine(msg.Line)
}

// Replay writes lines ahead of any held-back live events, then switches
// the client to live delivery.
func (c *Client) Replay(lines []string) error {
	for _, line := range lines {
		if err := c.WriteLine(line); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range c.backlog {
		if err := c.WriteLine(line); err != nil {
			return err
		}
	}
	c.backlog = nil
	c.replaying = false
	return nil
}

// Close closes the connection once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Conn.Close()
	})
	return err
}
