// Package obsws implements a client for the obs-websocket v5 protocol.
//
// The client owns one WebSocket session with OBS Studio and exposes the
// handful of requests the relay needs: listing inputs and reading or
// changing an input's mute state and volume.
//
// # Session
//
// Connect performs the v5 handshake:
//
//	OBS → Hello (op 0)        challenge + salt when a password is set
//	    ← Identify (op 1)     rpcVersion 1, auth string, event mask
//	OBS → Identified (op 2)
//
// After the handshake a single reader goroutine owns the read side of the
// socket. Requests (op 6) carry a UUID requestId and block until the
// matching RequestResponse (op 7) arrives or the request timeout expires.
// Events (op 5) are handed to the callback set with SetOnEvent.
//
// # Connection state
//
// State moves from Disconnected to Connected on a successful Connect and
// back only on Close. A socket failure makes in-flight and later requests
// fail with ErrTransport but does not change State; callers that want to
// recover must Close and Connect again.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Writes to the socket
// are serialised internally.
//
// # Usage
//
//	client := obsws.New(obsws.Config{Host: "localhost", Port: 4455, Password: pw})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	inputs, err := client.ListInputs(ctx)
package obsws
