package relay

import (
	"math/rand"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codefionn/bfrelay/internal/transform"
	"github.com/codefionn/bfrelay/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDString(t *testing.T) {
	assert.Equal(t, "Client_1", SessionID(1).String())
	assert.Equal(t, "Client_42", SessionID(42).String())
}

func TestRegisterAndDeregisterConcurrently(t *testing.T) {
	r := NewRegistry(nil)

	const n = 200
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = r.Register(&stubConn{}, stubAddr("remote"))
		}(i)
	}
	wg.Wait()

	seen := make(map[SessionID]bool, n)
	for _, s := range sessions {
		require.False(t, seen[s.ID], "id %s issued twice", s.ID)
		require.NotZero(t, s.ID)
		seen[s.ID] = true
	}
	require.Equal(t, n, r.Len())

	rng := rand.New(rand.NewSource(7))
	removed := make(map[SessionID]bool)
	for _, s := range sessions {
		if rng.Intn(2) == 0 {
			removed[s.ID] = true
		}
	}

	for id := range removed {
		wg.Add(1)
		go func(id SessionID) {
			defer wg.Done()
			r.Deregister(id, "test")
		}(id)
	}
	wg.Wait()

	var want []SessionID
	for _, s := range sessions {
		if !removed[s.ID] {
			want = append(want, s.ID)
		}
	}
	got := r.ListIDs()
	assert.ElementsMatch(t, want, got)
	assert.IsIncreasing(t, got)

	// ids are never reused
	next := r.Register(&stubConn{}, stubAddr("remote"))
	assert.Equal(t, SessionID(n+1), next.ID)
}

func TestBroadcastReachesEveryOtherSessionOnce(t *testing.T) {
	r := NewRegistry(nil)
	a := newPeer(t, r)
	b := newPeer(t, r)
	c := newPeer(t, r)

	delivered := r.Broadcast(a.session.ID, "hello")
	assert.Equal(t, 2, delivered)

	want := transform.Encode("Client_1: hello").Text
	b.expect(t, want)
	c.expect(t, want)
	a.expectNothing(t)
	b.expectNothing(t)
	c.expectNothing(t)
}

func TestBroadcastSystemExcludes(t *testing.T) {
	r := NewRegistry(nil)
	a := newPeer(t, r)
	b := newPeer(t, r)

	assert.Equal(t, 1, r.BroadcastSystem("news", a.session.ID))
	b.expect(t, wire.Notice("news"))
	a.expectNothing(t)

	assert.Equal(t, 2, r.BroadcastSystem("to all", 0))
	a.expect(t, wire.Notice("to all"))
	b.expect(t, wire.Notice("to all"))
}

func TestBroadcastPrunesFailedSessions(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(nil, WithObserver(obs))
	sender := newPeer(t, r)
	good := newPeer(t, r)
	bad := &stubConn{failWrites: true}
	badSession := r.Register(bad, stubAddr("bad"))
	after := newPeer(t, r)

	delivered := r.Broadcast(sender.session.ID, "ping")
	assert.Equal(t, 2, delivered)

	want := transform.Encode("Client_1: ping").Text
	good.expect(t, want)
	after.expect(t, want)

	_, ok := r.Get(badSession.ID)
	assert.False(t, ok, "failed session should be removed")
	assert.False(t, badSession.Active())
	assert.Equal(t, int32(1), bad.closes.Load())

	leftNotice := wire.Notice("Client_3 left the chat")
	sender.expect(t, leftNotice)
	good.expect(t, leftNotice)
	after.expect(t, leftNotice)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, "send failed", obs.left[badSession.ID])
	assert.Len(t, obs.joined, 4)
}

func TestDeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	watcher := newPeer(t, r)
	conn := &stubConn{}
	leaving := r.Register(conn, stubAddr("remote"))

	var performed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Deregister(leaving.ID, "test") {
				performed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), performed.Load())
	assert.Equal(t, int32(1), conn.closes.Load())
	watcher.expect(t, wire.Notice("Client_2 left the chat"))
	watcher.expectNothing(t)

	assert.False(t, r.Deregister(leaving.ID, "again"))
}

func TestSendTo(t *testing.T) {
	r := NewRegistry(nil)
	a := newPeer(t, r)

	assert.True(t, r.SendTo(a.session.ID, "hi there"))
	a.expect(t, wire.Notice("hi there"))

	assert.False(t, r.SendTo(SessionID(99), "nobody"))

	bad := &stubConn{failWrites: true}
	s := r.Register(bad, stubAddr("bad"))
	assert.False(t, r.SendTo(s.ID, "lost"))
	_, ok := r.Get(s.ID)
	assert.False(t, ok)
	a.expect(t, wire.Notice("Client_2 left the chat"))
}

func TestCloseAllIsSilent(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(nil, WithObserver(obs))
	conns := []*stubConn{{}, {}, {}}
	for _, c := range conns {
		r.Register(c, stubAddr("remote"))
	}

	r.CloseAll("shutdown")

	assert.Zero(t, r.Len())
	for _, c := range conns {
		assert.Equal(t, int32(1), c.closes.Load())
		assert.Zero(t, c.writes.Load(), "no departure notices on shutdown")
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.left, 3)
}

func TestSendTimeoutPrunesStuckSession(t *testing.T) {
	r := NewRegistry(nil, WithSendTimeout(100*time.Millisecond))
	sender := newPeer(t, r)

	// nothing ever reads the client end, so every write to it blocks
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	stuck := r.Register(server, server.RemoteAddr())

	receiver := newPeer(t, r)

	start := time.Now()
	delivered := r.Broadcast(sender.session.ID, "hello")
	elapsed := time.Since(start)

	assert.Equal(t, 1, delivered)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second, "fan-out must not wait on the stuck peer")

	_, ok := r.Get(stuck.ID)
	assert.False(t, ok, "stuck session should be pruned")
	assert.False(t, stuck.Active())

	receiver.expect(t, transform.Encode(sender.session.ID.String()+": hello").Text)
	receiver.expect(t, wire.Notice(stuck.ID.String()+" left the chat"))
	sender.expect(t, wire.Notice(stuck.ID.String()+" left the chat"))
}

// visibilityObserver checks whether a joining session can already be reached.
type visibilityObserver struct {
	r            *Registry
	visibleEarly atomic.Bool
}

func (o *visibilityObserver) SessionJoined(s *Session) {
	if _, ok := o.r.Get(s.ID); ok {
		o.visibleEarly.Store(true)
	}
	if slices.Contains(o.r.ListIDs(), s.ID) {
		o.visibleEarly.Store(true)
	}
}

func (o *visibilityObserver) SessionLeft(s *Session, reason string) {}

func TestJoinReportedBeforeSessionIsVisible(t *testing.T) {
	obs := &visibilityObserver{}
	r := NewRegistry(nil, WithObserver(obs))
	obs.r = r

	s := r.Register(&stubConn{}, stubAddr("remote"))

	assert.False(t, obs.visibleEarly.Load(), "a fan-out could drop the session before its join is recorded")
	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
}
