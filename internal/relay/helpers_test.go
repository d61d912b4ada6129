package relay

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codefionn/bfrelay/internal/wire"
)

// stubConn is a net.Conn whose writes either succeed silently or fail.
type stubConn struct {
	failWrites bool
	closes     atomic.Int32
	writes     atomic.Int32
}

var errStubWrite = errors.New("broken pipe")

func (c *stubConn) Read(b []byte) (int, error) { return 0, net.ErrClosed }
func (c *stubConn) Write(b []byte) (int, error) {
	if c.failWrites {
		return 0, errStubWrite
	}
	c.writes.Add(1)
	return len(b), nil
}
func (c *stubConn) Close() error                       { c.closes.Add(1); return nil }
func (c *stubConn) LocalAddr() net.Addr                { return stubAddr("local") }
func (c *stubConn) RemoteAddr() net.Addr               { return stubAddr("remote") }
func (c *stubConn) SetDeadline(t time.Time) error      { return nil }
func (c *stubConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *stubConn) SetWriteDeadline(t time.Time) error { return nil }

type stubAddr string

func (a stubAddr) Network() string { return "stub" }
func (a stubAddr) String() string  { return string(a) }

// peer is the far end of a net.Pipe registered with a registry. Every write
// the registry makes arrives as one entry on messages.
type peer struct {
	session  *Session
	conn     net.Conn
	messages chan string
}

func newPeer(t *testing.T, r *Registry) *peer {
	t.Helper()

	server, client := net.Pipe()
	p := &peer{
		conn:     client,
		messages: make(chan string, 64),
	}
	p.session = r.Register(server, server.RemoteAddr())

	go func() {
		defer close(p.messages)
		buf := make([]byte, wire.ReadBufferSize)
		for {
			n, err := client.Read(buf)
			if n > 0 {
				p.messages <- string(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { client.Close() })
	return p
}

func (p *peer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-p.messages:
		if !ok {
			t.Fatalf("%s: connection closed, want %q", p.session.ID, want)
		}
		if got != want {
			t.Fatalf("%s: got %q, want %q", p.session.ID, got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for %q", p.session.ID, want)
	}
}

func (p *peer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got, ok := <-p.messages:
		if ok {
			t.Fatalf("%s: unexpected message %q", p.session.ID, got)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// recordingObserver collects join and leave events.
type recordingObserver struct {
	mu     sync.Mutex
	joined []SessionID
	left   map[SessionID]string
}

func (o *recordingObserver) SessionJoined(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined = append(o.joined, s.ID)
}

func (o *recordingObserver) SessionLeft(s *Session, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.left == nil {
		o.left = make(map[SessionID]string)
	}
	o.left[s.ID] = reason
}

// fakeReplier records dispatcher replies.
type fakeReplier struct {
	mu      sync.Mutex
	ids     []SessionID
	replies map[SessionID][]string
}

func (f *fakeReplier) SendTo(id SessionID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies == nil {
		f.replies = make(map[SessionID][]string)
	}
	f.replies[id] = append(f.replies[id], text)
	return true
}

func (f *fakeReplier) ListIDs() []SessionID {
	return f.ids
}

func (f *fakeReplier) last(id SessionID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.replies[id]
	if len(r) == 0 {
		return ""
	}
	return r[len(r)-1]
}
