package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/obsrelay/internal/obsws"
)

// Reason classifies why an intent failed.
type Reason string

const (
	// ReasonUnavailable means the connection to OBS could not be established.
	ReasonUnavailable Reason = "unavailable"

	// ReasonUnknownInput means OBS has no input with the given name.
	ReasonUnknownInput Reason = "unknown_input"

	// ReasonTimeout means a round trip did not complete in time.
	ReasonTimeout Reason = "timeout"

	// ReasonProtocol means a round trip failed for any other reason.
	ReasonProtocol Reason = "protocol"

	// ReasonStopped means the bridge is not running or the caller gave up
	// before the intent started.
	ReasonStopped Reason = "stopped"
)

// ErrStopped is wrapped by intent errors with ReasonStopped.
var ErrStopped = errors.New("bridge: not running")

// IntentError is returned by the structured intents.
type IntentError struct {
	// Op is the intent name: "enumerate", "toggle_mute" or "set_volume".
	Op string

	// Input is the input name involved. For enumerate it is the input whose
	// read failed, if any.
	Input string

	Reason Reason
	Err    error
}

func (e *IntentError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("bridge: %s %q: %s: %v", e.Op, e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("bridge: %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *IntentError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the Reason carried by err, or "" when err is nil or not
// an *IntentError.
func ReasonOf(err error) Reason {
	var ie *IntentError
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return ""
}

// classify maps a link error onto a Reason.
func classify(err error) Reason {
	switch {
	case errors.Is(err, obsws.ErrConnectionFailed):
		return ReasonUnavailable
	case errors.Is(err, obsws.ErrUnknownInput):
		return ReasonUnknownInput
	case errors.Is(err, obsws.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
		return ReasonStopped
	default:
		return ReasonProtocol
	}
}

// linkBroken reports whether err means the session itself is unusable.
func linkBroken(err error) bool {
	return errors.Is(err, obsws.ErrTransport) || errors.Is(err, obsws.ErrTimeout)
}
