// Package relayclient connects to a relay server over TCP.
//
// The client encodes what it sends and decodes chat it receives, so callers
// deal in plain text only. Server notices arrive with Message.Notice set.
//
// Basic Usage
//
//	client, err := relayclient.Dial(ctx, "localhost:8888", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Send("hello"); err != nil {
//	    log.Fatal(err)
//	}
//	msg, err := client.Receive(ctx)
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/bfrelay/internal/consts"
	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/transform"
	"github.com/codefionn/bfrelay/internal/wire"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	// StateConnecting indicates Dial is in progress
	StateConnecting ConnectionState = iota
	// StateConnected indicates the connection is usable
	StateConnected
	// StateDisconnected indicates the server closed the connection
	StateDisconnected
	// StateClosed indicates Close was called
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned when using a client after Close.
	ErrClosed = errors.New("client closed")
	// ErrNotEncodable is returned by Send for text the transform cannot encode.
	ErrNotEncodable = errors.New("message cannot be encoded")
)

// Options holds client configuration
type Options struct {
	// ConnectTimeout bounds Dial
	ConnectTimeout time.Duration
	// WriteTimeout bounds each Send; zero disables it
	WriteTimeout time.Duration
	// Codec encodes outgoing and decodes incoming chat
	Codec *transform.Codec
	// Backlog is how many received messages are buffered before reads stall
	Backlog int
}

// DefaultOptions returns a default configuration
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout: consts.Timeout10Seconds,
		WriteTimeout:   consts.Timeout5Seconds,
		Backlog:        64,
	}
}

// Message is one read from the server.
type Message struct {
	// Text is the notice without its marker, or the decoded chat line
	Text string
	// Notice is set for clear-text server notices
	Notice bool
	// Raw is the text as it arrived
	Raw string
}

// Client is a connection to a relay server
type Client struct {
	opts  *Options
	conn  net.Conn
	state atomic.Int32 // ConnectionState

	writeMu  sync.Mutex
	incoming chan Message

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Dial connects to addr. A nil opts selects DefaultOptions.
func Dial(ctx context.Context, addr string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Codec == nil {
		opts.Codec = transform.NewCodec(transform.DefaultStepBudget)
	}
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultOptions().Backlog
	}

	c := &Client{
		opts:     opts,
		incoming: make(chan Message, opts.Backlog),
		stopCh:   make(chan struct{}),
	}
	c.setState(StateConnecting)

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.setState(StateClosed)
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.conn = conn
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.readPump()

	return c, nil
}

// Send encodes text and writes it as one message.
func (c *Client) Send(text string) error {
	res := c.opts.Codec.Encode(text)
	if res.Passthrough {
		return fmt.Errorf("%w: %q", ErrNotEncodable, text)
	}
	return c.SendRaw(res.Text)
}

// SendRaw writes data unchanged as one message.
func (c *Client) SendRaw(data string) error {
	if c.State() == StateClosed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := c.conn.Write([]byte(data)); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Receive waits for the next message. Once the connection has ended and
// every buffered message is consumed it returns the read error, io.EOF when
// the server closed the connection.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg, ok := <-c.incoming:
		if !ok {
			return Message{}, c.err()
		}
		return msg, nil
	}
}

// Messages exposes received messages. The channel is closed when the
// connection ends.
func (c *Client) Messages() <-chan Message {
	return c.incoming
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.stopCh)
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// LocalAddr returns the client side of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) setState(state ConnectionState) {
	c.state.Store(int32(state))
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer close(c.incoming)

	buf := make([]byte, wire.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			select {
			case c.incoming <- c.parse(string(buf[:n])):
			case <-c.stopCh:
				return
			}
		}
		if err != nil {
			c.setErr(err)
			if c.State() != StateClosed {
				c.setState(StateDisconnected)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("relay client read error: %v", err)
			}
			return
		}
	}
}

func (c *Client) parse(raw string) Message {
	if wire.IsNotice(raw) {
		return Message{Text: wire.StripNotice(raw), Notice: true, Raw: raw}
	}
	return Message{Text: c.opts.Codec.Decode(raw).Text, Raw: raw}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.State() == StateClosed {
		return ErrClosed
	}
	if c.readErr == nil {
		return io.EOF
	}
	return c.readErr
}
