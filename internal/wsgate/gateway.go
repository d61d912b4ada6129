// Package wsgate lets browsers and other websocket clients join a relay.
// Each websocket message carries one relay message, encoded exactly as it
// would be over TCP.
package wsgate

import (
	"net"
	"net/http"

	"github.com/codefionn/bfrelay/internal/consts"
	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/gorilla/websocket"
)

// Maximum message size allowed from peer.
const maxMessageSize = consts.BufferSize1KB * 4

// Attacher admits connections into a relay; *relay.Server implements it.
type Attacher interface {
	Attach(conn net.Conn) error
}

// Gateway upgrades HTTP requests to websockets and attaches them.
type Gateway struct {
	relay    Attacher
	upgrader websocket.Upgrader
}

// New returns a gateway attaching to relay. checkOrigin may be nil to
// accept every origin.
func New(relay Attacher, checkOrigin func(r *http.Request) bool) *Gateway {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Gateway{
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize1KB,
			WriteBufferSize: consts.BufferSize1KB,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	if err := g.relay.Attach(NewConn(ws)); err != nil {
		logger.Warn("Rejected websocket from %s: %v", r.RemoteAddr, err)
	}
}
