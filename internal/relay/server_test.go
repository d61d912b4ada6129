package relay_test

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/codefionn/bfrelay/internal/config"
	"github.com/codefionn/bfrelay/internal/relay"
	"github.com/codefionn/bfrelay/internal/relayclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv  *relay.Server
	addr string
	done chan error
	stop context.CancelFunc
}

func startServer(t *testing.T, tweaks ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ReadTimeoutMillis = 50
	cfg.SendTimeoutMillis = 1000
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	srv, err := relay.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		srv:  srv,
		addr: srv.Addr().String(),
		done: make(chan error, 1),
		stop: cancel,
	}
	go func() { ts.done <- srv.Serve(ctx) }()
	require.Eventually(t, srv.Running, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) join(t *testing.T) *relayclient.Client {
	t.Helper()
	c, err := relayclient.Dial(context.Background(), ts.addr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func receive(t *testing.T, c *relayclient.Client) relayclient.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func expectNotice(t *testing.T, c *relayclient.Client, want string) {
	t.Helper()
	msg := receive(t, c)
	assert.True(t, msg.Notice, "want notice, got %q", msg.Raw)
	assert.Equal(t, want, msg.Text)
}

func expectSilence(t *testing.T, c *relayclient.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	msg, err := c.Receive(ctx)
	if err == nil {
		t.Fatalf("unexpected message %q", msg.Raw)
	}
}

func TestServerChat(t *testing.T) {
	ts := startServer(t)

	alice := ts.join(t)
	expectNotice(t, alice, "Welcome to the relay! You are Client_1")

	bob := ts.join(t)
	expectNotice(t, bob, "Welcome to the relay! You are Client_2")
	expectNotice(t, alice, "Client_2 joined the chat")

	require.NoError(t, bob.Send("hi"))
	msg := receive(t, alice)
	assert.False(t, msg.Notice)
	assert.Equal(t, "Client_2: hi", msg.Text)
	assert.Equal(t, "Dmjfou`3;!ij", msg.Raw)
	expectSilence(t, bob)

	require.NoError(t, bob.Close())
	expectNotice(t, alice, "Client_2 left the chat")
	assert.Eventually(t, func() bool { return ts.srv.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerCommands(t *testing.T) {
	ts := startServer(t)

	alice := ts.join(t)
	expectNotice(t, alice, "Welcome to the relay! You are Client_1")
	bob := ts.join(t)
	expectNotice(t, bob, "Welcome to the relay! You are Client_2")
	expectNotice(t, alice, "Client_2 joined the chat")

	require.NoError(t, bob.Send("/users"))
	expectNotice(t, bob, "Connected users: Client_1, Client_2")

	require.NoError(t, bob.Send("/time"))
	msg := receive(t, bob)
	assert.Regexp(t, regexp.MustCompile(`^Server time: \d{2}:\d{2}:\d{2}$`), msg.Text)

	require.NoError(t, bob.Send("/bf ,[-.,]"))
	expectNotice(t, bob, "BF Output: 'Gdkkn '")

	require.NoError(t, bob.Send("/bf +[]"))
	expectNotice(t, bob, relay.BFFailureText)

	require.NoError(t, bob.Send("/what"))
	expectNotice(t, bob, relay.UnknownCommandText)

	// commands are never relayed
	expectSilence(t, alice)

	require.NoError(t, bob.Send("/quit"))
	expectNotice(t, bob, relay.GoodbyeText)
	expectNotice(t, alice, "Client_2 left the chat")
}

func TestServerRejectsInvalidPayload(t *testing.T) {
	ts := startServer(t)

	alice := ts.join(t)
	expectNotice(t, alice, "Welcome to the relay! You are Client_1")
	bob := ts.join(t)
	expectNotice(t, bob, "Welcome to the relay! You are Client_2")
	expectNotice(t, alice, "Client_2 joined the chat")

	// decodes to a tab, which is outside the printable range
	require.NoError(t, bob.SendRaw("\n"))
	expectNotice(t, bob, relay.InvalidPayloadText)
	expectSilence(t, alice)

	// the session survives
	require.NoError(t, bob.Send("still here"))
	assert.Equal(t, "Client_2: still here", receive(t, alice).Text)
}

func TestServerDropsInvalidUTF8(t *testing.T) {
	ts := startServer(t)

	alice := ts.join(t)
	expectNotice(t, alice, "Welcome to the relay! You are Client_1")
	bob := ts.join(t)
	expectNotice(t, bob, "Welcome to the relay! You are Client_2")
	expectNotice(t, alice, "Client_2 joined the chat")

	// "ij" is "hi" encoded; the stray byte is removed before decoding
	require.NoError(t, bob.SendRaw("\xffij"))
	msg := receive(t, alice)
	assert.False(t, msg.Notice)
	assert.Equal(t, "Client_2: hi", msg.Text)
	expectSilence(t, bob)
}

func TestServerConnectionLimit(t *testing.T) {
	ts := startServer(t, func(cfg *config.Config) { cfg.MaxConnections = 1 })

	alice := ts.join(t)
	expectNotice(t, alice, "Welcome to the relay! You are Client_1")

	// the dial completes in the kernel backlog but is not accepted yet
	bob := ts.join(t)
	expectSilence(t, bob)
	assert.Equal(t, 1, ts.srv.SessionCount())

	require.NoError(t, alice.Close())
	expectNotice(t, bob, "Welcome to the relay! You are Client_2")
	assert.Equal(t, 1, ts.srv.SessionCount())
}

func TestServerShutdownClosesSessions(t *testing.T) {
	ts := startServer(t)

	alice := ts.join(t)
	expectNotice(t, alice, "Welcome to the relay! You are Client_1")
	bob := ts.join(t)
	expectNotice(t, bob, "Welcome to the relay! You are Client_2")
	expectNotice(t, alice, "Client_2 joined the chat")

	ts.stop()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	// keep the cleanup from waiting on an already drained channel
	ts.done <- nil

	assert.False(t, ts.srv.Running())
	assert.Zero(t, ts.srv.SessionCount())

	for _, c := range []*relayclient.Client{alice, bob} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := c.Receive(ctx)
		cancel()
		assert.Error(t, err)
		assert.False(t, errors.Is(err, context.DeadlineExceeded), "connection should be closed, not idle")
	}

	_, err := net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed")
}

func TestServeTwice(t *testing.T) {
	ts := startServer(t)
	err := ts.srv.Serve(context.Background())
	assert.ErrorIs(t, err, relay.ErrServerRunning)
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BFStepBudget = 0
	_, err := relay.NewServer(cfg)
	assert.Error(t, err)
}
