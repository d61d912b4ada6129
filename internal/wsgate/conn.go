package wsgate

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/codefionn/bfrelay/internal/consts"
	"github.com/gorilla/websocket"
)

// Conn adapts a websocket connection to net.Conn. Every websocket message
// is returned by exactly one Read, and every Write sends one message, so
// the relay sees the same one-read-one-message framing it gets over TCP.
//
// Websocket connections cannot survive a read timeout, so a pump goroutine
// owns the socket's reads and Read applies deadlines on the Go side.
type Conn struct {
	ws *websocket.Conn

	messages chan []byte
	done     chan struct{}

	errMu   sync.Mutex
	readErr error

	deadlineMu   sync.Mutex
	readDeadline time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps ws and starts reading from it.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		messages: make(chan []byte),
		done:     make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	go c.readPump()
	return c
}

func (c *Conn) readPump() {
	defer close(c.messages)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

// Read returns the next message. Data beyond len(b) is dropped, matching a
// short TCP read of an oversized message.
func (c *Conn) Read(b []byte) (int, error) {
	c.deadlineMu.Lock()
	deadline := c.readDeadline
	c.deadlineMu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-c.messages:
		if !ok {
			return 0, c.closedErr()
		}
		return copy(b, data), nil
	case <-c.done:
		return 0, net.ErrClosed
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

func (c *Conn) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	var closeErr *websocket.CloseError
	if errors.As(c.readErr, &closeErr) {
		return io.EOF
	}
	return c.readErr
}

// Write sends b as one message, as text when it is valid UTF-8.
func (c *Conn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	kind := websocket.TextMessage
	if !utf8.Valid(b) {
		kind = websocket.BinaryMessage
	}
	if err := c.ws.WriteMessage(kind, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	err := net.ErrClosed
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(consts.Timeout1Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

var _ net.Conn = (*Conn)(nil)
