// Package relay implements the chat relay server.
//
// # Architecture
//
//   - Server: listens on TCP, accepts connections and supervises handlers
//   - Registry: owns the live sessions; admission, fan-out, unicast, removal
//   - handler: one goroutine per session; read, decode, validate, dispatch
//   - Dispatcher: answers slash commands, including /bf which runs a
//     caller-supplied tape program under a step budget
//
// # Message Flow
//
// A client's message arrives encoded (see package transform). The handler
// decodes it and checks it with transform.IsValidPayload. Commands go to the
// Dispatcher and are answered to the sender only; anything else is relayed
// to every other session as "Client_N: text", encoded again.
//
// The welcome line, join and leave notices and command replies are sent in
// clear, prefixed with wire.NoticeMarker.
//
// # Framing
//
// One Read is one message. TCP may split or coalesce writes, so a peer that
// sends faster than the relay reads can see messages merged. Clients are
// expected to send one message per write.
//
// # Shutdown
//
// Cancelling the context passed to Server.Serve closes the listener, closes
// every session and waits for all handlers to return.
//
// Usage
//
//	srv, err := relay.NewServer(cfg)
//	if err != nil {
//	    return err
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return srv.Serve(ctx)
package relay
