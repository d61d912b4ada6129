package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// SessionID identifies a session for the lifetime of the process. The zero
// value is never issued and means "no session".
type SessionID uint64

// String renders the id the way peers see it, e.g. "Client_3".
func (id SessionID) String() string {
	return fmt.Sprintf("Client_%d", uint64(id))
}

// ErrSessionClosed is returned when sending on a session that has left.
var ErrSessionClosed = errors.New("session closed")

// Session is one accepted connection's registry entry.
type Session struct {
	ID       SessionID
	Token    string
	Addr     net.Addr
	JoinedAt time.Time

	conn        net.Conn
	sendTimeout time.Duration
	active      atomic.Bool

	// serializes writes so concurrent fan-outs never interleave bytes
	sendMu    sync.Mutex
	closeOnce sync.Once
}

// Active reports whether the session is still registered.
func (s *Session) Active() bool {
	return s.active.Load()
}

// RemoteAddr returns the peer address as text.
func (s *Session) RemoteAddr() string {
	if s.Addr == nil {
		return ""
	}
	return s.Addr.String()
}

func (s *Session) send(text string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.active.Load() {
		return ErrSessionClosed
	}
	if s.sendTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := s.conn.Write([]byte(text)); err != nil {
		return err
	}
	return nil
}

// close releases the connection once; close errors are dropped.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
