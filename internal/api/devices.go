package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/obsrelay/internal/bridge"
)

// enumerateTimeout bounds a coalesced enumeration. It is detached from any
// single caller so one client leaving does not fail the others.
const enumerateTimeout = 30 * time.Second

// devicesResponse is the body of GET /api/devices and the WebSocket
// devices message.
type devicesResponse struct {
	Devices []bridge.InputDevice `json:"devices"`
}

// volumeRequest is the body of POST /api/volume/{input}. A missing
// volume_db means 0 dB.
type volumeRequest struct {
	VolumeDb *float64 `json:"volume_db"`
}

func (v volumeRequest) value() float64 {
	if v.VolumeDb == nil {
		return 0
	}
	return *v.VolumeDb
}

// enumerate runs one bridge enumeration shared by all concurrent callers.
func (s *Server) enumerate(ctx context.Context, source string) ([]bridge.InputDevice, error) {
	ch := s.inflight.DoChan("enumerate", func() (any, error) {
		enumCtx, cancel := context.WithTimeout(
			bridge.WithSource(context.WithoutCancel(ctx), source), enumerateTimeout)
		defer cancel()
		return s.bridge.Enumerate(enumCtx)
	})

	select {
	case res := <-ch:
		devices, _ := res.Val.([]bridge.InputDevice) //nolint:errcheck // nil on error
		if devices == nil {
			devices = []bridge.InputDevice{}
		}
		return devices, res.Err
	case <-ctx.Done():
		return []bridge.InputDevice{}, ctx.Err()
	}
}

// handleListDevices returns a fresh snapshot of every OBS input.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.enumerate(r.Context(), bridge.SourceAPI)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("listing devices failed", "error", err)
		writeIntentError(w, err, "Failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devices})
}

// handleToggle flips the mute state of one input.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	name, ok := inputParam(w, r)
	if !ok {
		return
	}

	ctx := bridge.WithSource(r.Context(), bridge.SourceAPI)
	if err := s.bridge.ToggleMute(ctx, name); err != nil {
		writeIntentError(w, err, fmt.Sprintf("Failed to toggle %s", name))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Toggled " + name,
	})
}

// handleSetVolume sets the volume of one input in dB.
func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	name, ok := inputParam(w, r)
	if !ok {
		return
	}

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body required")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	db := req.value()

	ctx := bridge.WithSource(r.Context(), bridge.SourceAPI)
	if err := s.bridge.SetVolumeDb(ctx, name, db); err != nil {
		writeIntentError(w, err, fmt.Sprintf("Failed to set volume for %s", name))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Set %s volume to %s dB", name, formatDb(db)),
	})
}

// inputParam returns the decoded {input} path segment. Names may contain
// any character, including an escaped slash.
func inputParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "input")
	if r.URL.RawPath != "" {
		decoded, err := url.PathUnescape(name)
		if err != nil {
			writeBadRequest(w, "invalid input name")
			return "", false
		}
		name = decoded
	}
	if name == "" {
		writeBadRequest(w, "input name required")
		return "", false
	}
	return name, true
}

// formatDb renders a dB value without trailing zeros.
func formatDb(db float64) string {
	return strconv.FormatFloat(db, 'f', -1, 64)
}
