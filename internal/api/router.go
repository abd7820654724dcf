package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/obsrelay/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		if s.secCfg.AuthEnabled() {
			r.Post("/auth/login", s.handleLogin)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			if s.secCfg.AuthEnabled() {
				r.Post("/auth/ws-ticket", s.handleWSTicket)
			}

			r.Get("/devices", s.handleListDevices)
			r.Post("/toggle/{input}", s.handleToggle)
			r.Post("/volume/{input}", s.handleSetVolume)
			r.Get("/audit", s.handleListAuditLogs)
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeNotFound(w, "no such endpoint")
		})
	})

	r.Get(s.wsPath(), s.handleWebSocket)

	// Control panel (embedded unless api.static_dir points at a directory)
	r.Handle("/*", panel.Handler(s.cfg.StaticDir))

	return r
}

// wsPath returns the configured WebSocket path, defaulting to /ws.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the relay version and whether OBS is connected.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := s.bridge.IsConnected()
	status := "ok"
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       s.version,
		"obs_connected": connected,
	})
}
