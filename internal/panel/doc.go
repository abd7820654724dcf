// Package panel serves the browser control panel as an embedded asset.
//
// The panel is a single page that lists OBS inputs and drives them over the
// relay WebSocket. Assets are embedded with go:embed so the binary has no
// runtime file dependency; a directory on disk can replace them during
// development.
package panel
