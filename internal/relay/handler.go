package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/transform"
	"github.com/codefionn/bfrelay/internal/wire"
)

// InvalidPayloadText is sent to a session whose message fails validation.
const InvalidPayloadText = "Invalid message format"

type handlerState int

const (
	stateConnected handlerState = iota
	stateReceiving
	stateDispatching
	stateDisconnecting
	stateClosed
)

func (s handlerState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateReceiving:
		return "receiving"
	case stateDispatching:
		return "dispatching"
	case stateDisconnecting:
		return "disconnecting"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errQuit = errors.New("session requested disconnect")

// handler drives one session from welcome to teardown.
type handler struct {
	session     *Session
	registry    *Registry
	dispatcher  *Dispatcher
	codec       *transform.Codec
	readTimeout time.Duration
	log         *logger.Logger

	state    handlerState
	stopOnce sync.Once
}

// run reads from the session until it ends, then deregisters it exactly once.
func (h *handler) run(ctx context.Context) {
	reason := "closed"
	defer func() { h.stop(reason) }()

	conn := h.session.conn
	buf := make([]byte, wire.ReadBufferSize)

	for h.session.Active() {
		select {
		case <-ctx.Done():
			reason = "server shutting down"
			return
		default:
		}

		h.setState(stateReceiving)
		if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
			reason = fmt.Sprintf("set read deadline: %v", err)
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if perr := h.process(buf[:n]); perr != nil {
				if errors.Is(perr, errQuit) {
					reason = "quit"
				} else {
					reason = perr.Error()
				}
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				continue
			case errors.Is(err, io.EOF):
				h.log.Info("disconnected normally")
				reason = "peer closed connection"
			case errors.Is(err, net.ErrClosed):
				reason = "connection closed"
			default:
				h.log.Error("read error: %v", err)
				reason = fmt.Sprintf("read error: %v", err)
			}
			return
		}
		if n == 0 {
			reason = "peer closed connection"
			return
		}
	}
}

// process handles one received message. A returned error ends the session.
func (h *handler) process(data []byte) (err error) {
	h.setState(stateDispatching)
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while handling message: %v", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	raw := strings.ToValidUTF8(string(data), "")
	res := h.codec.Decode(raw)
	if res.Passthrough {
		h.log.Debug("decode fell back to passthrough")
	}
	msg := res.Text

	if !transform.IsValidPayload(msg) {
		h.registry.SendTo(h.session.ID, InvalidPayloadText)
		return nil
	}

	h.log.Debug("message: %s", msg)

	if wire.IsCommand(msg) {
		if h.dispatcher.Dispatch(h.session.ID, msg) {
			return errQuit
		}
		return nil
	}

	h.registry.Broadcast(h.session.ID, msg)
	return nil
}

func (h *handler) stop(reason string) {
	h.stopOnce.Do(func() {
		h.setState(stateDisconnecting)
		h.registry.Deregister(h.session.ID, reason)
		h.setState(stateClosed)
	})
}

func (h *handler) setState(next handlerState) {
	if h.state != next {
		h.log.Debug("%s -> %s", h.state, next)
		h.state = next
	}
}
