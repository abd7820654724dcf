// Package api implements the HTTP and WebSocket relay in front of the bridge.
//
// This package provides:
//   - REST endpoints to list OBS inputs, toggle mute and set volume
//   - A WebSocket hub that serves the same intents and broadcasts input
//     state changes observed by the bridge
//   - Optional JWT authentication with single-use WebSocket tickets
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - The embedded control panel at /
//
// # Failure mapping
//
// Bridge failures become HTTP statuses: OBS unreachable 503, unknown input
// 404, timeout 504, protocol failure 502, bridge stopped 503. Every error
// body carries status, code, message and error fields.
//
// # Coalescing
//
// Concurrent device listings from HTTP and WebSocket clients share one
// in-flight enumeration.
package api
