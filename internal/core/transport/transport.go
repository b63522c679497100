// Package transport carries the relay's line protocol over client
// connections. A Conn reads request lines and writes reply lines; TCP
// sockets frame lines with CRLF, WebSocket sessions use one text message
// per line.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Terminator ends every line on the TCP wire.
const Terminator = "\r\n"

// MaxLineLength bounds a single inbound line.
const MaxLineLength = 64 * 1024

var (
	// ErrInterrupt is returned by ReadLine when a telnet client sends its
	// interrupt negotiation (IAC WILL TIMING-MARK).
	ErrInterrupt = errors.New("transport: telnet interrupt")
	// ErrLineTooLong is returned when an inbound line exceeds MaxLineLength.
	ErrLineTooLong = errors.New("transport: line too long")
)

var telnetInterrupt = []byte{0xff, 0xfb, 0x06}

// Conn is one client connection speaking the line protocol.
type Conn interface {
	// ID is a unique identifier assigned when the connection was accepted.
	ID() string
	// RemoteAddr is the peer address, for logs.
	RemoteAddr() string
	// ReadLine blocks until a full line arrives and returns it without its
	// terminator.
	ReadLine() (string, error)
	// WriteLine writes one line. Writes are serialised per connection.
	WriteLine(line string) error
	// Close closes the underlying connection.
	Close() error
}

// --- TCP Conn implementation ---

type tcpConn struct {
	id           string
	conn         net.Conn
	rd           *bufio.Reader
	writeTimeout time.Duration

	mu     sync.Mutex // protects writes
	closed bool
}

// NewTCPConn wraps an accepted socket. A zero writeTimeout disables write
// deadlines.
func NewTCPConn(c net.Conn, writeTimeout time.Duration) Conn {
	return &tcpConn{
		id:           uuid.NewString(),
		conn:         c,
		rd:           bufio.NewReader(c),
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) ID() string { return c.id }

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) ReadLine() (string, error) {
	var buf []byte
	for {
		b, err := c.rd.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return strings.TrimRight(string(buf), "\r"), nil
			}
			return "", err
		}
		if b == '\n' {
			return strings.TrimRight(string(buf), "\r"), nil
		}
		buf = append(buf, b)
		if bytes.HasSuffix(buf, telnetInterrupt) {
			return "", ErrInterrupt
		}
		if len(buf) > MaxLineLength {
			return "", ErrLineTooLong
		}
	}
}

func (c *tcpConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("transport: set deadline: %w", err)
		}
	}
	if _, err := io.WriteString(c.conn, line+Terminator); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *tcpConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// --- WebSocket Conn implementation ---

type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex // protects writes
	log          *slog.Logger
}

// NewWSConn wraps an established WebSocket session.
func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration, log *slog.Logger) Conn {
	c := &wsConn{id: uuid.NewString(), ws: ws, writeTimeout: writeTimeout, log: log}
	ws.SetReadLimit(MaxLineLength)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Time{})
	})
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *wsConn) ReadLine() (string, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("transport: read: %w", err)
		}
		if msgType != websocket.TextMessage {
			c.log.Debug("ignoring non-text websocket frame", "conn", c.id, "type", msgType)
			continue
		}
		if bytes.Contains(data, telnetInterrupt) {
			return "", ErrInterrupt
		}
		return strings.TrimRight(string(data), Terminator), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Ping sends a WebSocket-level ping frame.
func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(5*time.Second))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// DialWS opens a line-protocol session against a relay's WebSocket
// endpoint, e.g. ws://host:8086/ws.
func DialWS(ctx context.Context, url string, log *slog.Logger) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	ws, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: HTTP %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewWSConn(ws, 0, log), nil
}
