package relay

import (
	"cmp"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/transform"
	"github.com/codefionn/bfrelay/internal/wire"
	"github.com/google/uuid"
)

// Observer is told about sessions joining and leaving the registry.
// Callbacks run outside the registry lock.
type Observer interface {
	SessionJoined(s *Session)
	SessionLeft(s *Session, reason string)
}

// Registry owns the set of live sessions. Every map access is serialized by
// a single mutex; network writes happen after the lock is released, and
// sessions whose writes fail are removed only once a fan-out has finished.
type Registry struct {
	mu       sync.Mutex
	sessions map[SessionID]*Session
	lastID   SessionID

	codec       *transform.Codec
	sendTimeout time.Duration
	observer    Observer
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithSendTimeout bounds every write to a session's connection.
func WithSendTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.sendTimeout = d
	}
}

// WithObserver registers an observer for join and leave events.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty registry that encodes chat with codec.
func NewRegistry(codec *transform.Codec, opts ...RegistryOption) *Registry {
	if codec == nil {
		codec = transform.NewCodec(transform.DefaultStepBudget)
	}
	r := &Registry{
		sessions: make(map[SessionID]*Session),
		codec:    codec,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register admits conn as a new active session and returns it. It must be
// called before anything is read from or written to conn.
func (r *Registry) Register(conn net.Conn, addr net.Addr) *Session {
	s := &Session{
		Token:       uuid.NewString(),
		Addr:        addr,
		JoinedAt:    time.Now(),
		conn:        conn,
		sendTimeout: r.sendTimeout,
	}
	s.active.Store(true)

	r.mu.Lock()
	r.lastID++
	s.ID = r.lastID
	r.mu.Unlock()

	// the join is reported before any fan-out can see, and so drop, the session
	if r.observer != nil {
		r.observer.SessionJoined(s)
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	logger.Info("%s connected from %s (total: %d)", s.ID, s.RemoteAddr(), total)
	return s
}

// Broadcast sends "<sender>: <payload>", encoded, to every active session
// except the sender. It returns the number of sessions reached.
func (r *Registry) Broadcast(sender SessionID, payload string) int {
	res := r.codec.Encode(fmt.Sprintf("%s: %s", sender, payload))
	if res.Passthrough {
		logger.Warn("Broadcast from %s sent unencoded, transform fell back to passthrough", sender)
	}
	return r.fanOut(res.Text, sender)
}

// BroadcastSystem sends text in clear, as a notice, to every active session
// except exclude. Pass 0 to exclude nobody.
func (r *Registry) BroadcastSystem(text string, exclude SessionID) int {
	return r.fanOut(wire.Notice(text), exclude)
}

func (r *Registry) fanOut(msg string, exclude SessionID) int {
	targets := r.snapshot(exclude)

	delivered := 0
	var failed []SessionID
	for _, s := range targets {
		if err := s.send(msg); err != nil {
			logger.Warn("Failed to send to %s: %v", s.ID, err)
			failed = append(failed, s.ID)
			continue
		}
		delivered++
	}

	for _, id := range failed {
		r.Deregister(id, "send failed")
	}
	return delivered
}

// snapshot returns the active sessions other than exclude, ordered by id.
func (r *Registry) snapshot(exclude SessionID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != exclude && s.Active() {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Session) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// SendTo delivers text in clear, as a notice, to a single session. On
// failure the session is deregistered and false is returned.
func (r *Registry) SendTo(id SessionID, text string) bool {
	s, ok := r.Get(id)
	if !ok || !s.Active() {
		return false
	}
	if err := s.send(wire.Notice(text)); err != nil {
		logger.Warn("Failed to send to %s: %v", id, err)
		r.Deregister(id, "send failed")
		return false
	}
	return true
}

// Deregister removes a session, closes its connection and tells everyone
// else it left. Only the first call for an id does anything; it reports
// whether this call performed the teardown.
func (r *Registry) Deregister(id SessionID, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	s.active.Store(false)
	remaining := len(r.sessions)
	r.mu.Unlock()

	s.close()
	logger.Info("%s disconnected: %s (remaining: %d)", id, reason, remaining)
	if r.observer != nil {
		r.observer.SessionLeft(s, reason)
	}

	r.BroadcastSystem(fmt.Sprintf("%s left the chat", id), id)
	return true
}

// CloseAll removes every session without announcing departures.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		s.active.Store(false)
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.close()
		if r.observer != nil {
			r.observer.SessionLeft(s, reason)
		}
	}
	if len(all) > 0 {
		logger.Info("Closed %d sessions: %s", len(all), reason)
	}
}

// ListIDs returns the ids of all registered sessions in ascending order.
func (r *Registry) ListIDs() []SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Get returns the session registered under id.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
