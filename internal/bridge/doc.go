// Package bridge controls OBS audio inputs on behalf of the relay.
//
// The Bridge owns the single obs-websocket link and turns three intents
// into protocol round trips:
//
//   - Enumerate: list inputs, then read each input's volume and mute state
//   - ToggleMute: read the mute state and write its inverse
//   - SetVolumeDb: write a volume in decibels
//
// # Concurrency
//
// A Bridge is an actor. Start launches one worker goroutine that owns every
// link call; intents are queued as tasks and run one at a time, so the
// sub-calls of two intents never interleave on the connection. A caller
// whose context ends while its task is still queued gets ReasonStopped; a
// task that has started runs to completion.
//
// # Results
//
// The structured intents return *IntentError carrying a Reason
// (unavailable, unknown_input, timeout, protocol, stopped). Devices, Toggle
// and SetVolume collapse failures to an empty list or false for callers
// that only need success or failure.
//
// Enumeration is all-or-nothing: if any sub-call fails the result is empty.
//
// # Connection state
//
// The bridge connects lazily before each intent when the link reports it
// is disconnected. A failed round trip does not mark the link disconnected
// unless ReconnectOnFailure is set, in which case a transport failure or
// timeout closes the link so the next intent reconnects.
//
// # MQTT
//
// MQTTAdapter exposes the intents over MQTT (commands, acks, request and
// response, retained state) and HealthReporter publishes periodic health.
package bridge
