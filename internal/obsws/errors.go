package obsws

import "errors"

// Domain errors for the obs-websocket client.
//
// Callers classify failures with errors.Is; the wrapped message carries the
// request type, input name and OBS status details.
var (
	// ErrConnectionFailed is returned when the session cannot be established:
	// dial failure, handshake failure, or authentication rejected.
	ErrConnectionFailed = errors.New("obsws: connection to OBS failed")

	// ErrNotConnected is returned when a request is made before a
	// successful Connect or after Close.
	ErrNotConnected = errors.New("obsws: not connected to OBS")

	// ErrUnknownInput is returned when OBS reports that the named input
	// does not exist (request status 600).
	ErrUnknownInput = errors.New("obsws: unknown input")

	// ErrRequestFailed is returned when OBS answers a request with any
	// other non-success status.
	ErrRequestFailed = errors.New("obsws: request failed")

	// ErrTimeout is returned when a request receives no response within
	// the configured request timeout.
	ErrTimeout = errors.New("obsws: request timed out")

	// ErrTransport is returned when the socket fails while a request is
	// being written or awaited.
	ErrTransport = errors.New("obsws: transport failure")

	// ErrInvalidMessage is returned when a frame from OBS cannot be decoded.
	ErrInvalidMessage = errors.New("obsws: invalid message")
)
