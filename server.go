package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/audio"
	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/monitor"
	"github.com/oszuidwest/zwfm-loudwatch/internal/server"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// readHeaderTimeout bounds slow clients sending request headers.
const readHeaderTimeout = 10 * time.Second

// Server is the HTTP and WebSocket front end of the loudness monitor.
type Server struct {
	config          *config.Config
	monitor         *monitor.Monitor
	commands        *server.CommandHandler
	version         *VersionChecker
	ffmpegAvailable bool
}

// NewServer returns a new Server for the given config and monitor.
func NewServer(cfg *config.Config, mon *monitor.Monitor, version *VersionChecker, ffmpegAvailable bool) *Server {
	return &Server{
		config:          cfg,
		monitor:         mon,
		commands:        server.NewCommandHandler(cfg, mon),
		version:         version,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// handleWebSocket upgrades the connection and streams status and tick stats.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	s.commands.Serve(conn, s.buildWSStatus)
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	var version types.VersionInfo
	if s.version != nil {
		version = s.version.Info()
	}
	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Monitor:         s.monitor.Status(),
		Devices:         audio.Devices(),
		Version:         version,
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))

	mux.HandleFunc("POST /api/listen/start", s.apiKeyAuth(s.handleListenStart))
	mux.HandleFunc("POST /api/listen/stop", s.apiKeyAuth(s.handleListenStop))
	mux.HandleFunc("GET /api/status", s.apiKeyAuth(s.handleStatus))
	mux.HandleFunc("GET /api/stats", s.apiKeyAuth(s.handleStats))
	mux.HandleFunc("POST /api/contacts", s.apiKeyAuth(s.handleAddContact))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleEvents))
	mux.HandleFunc("GET /api/devices", s.apiKeyAuth(s.handleDevices))
	mux.HandleFunc("GET /api/config", s.apiKeyAuth(s.handleConfig))
	mux.HandleFunc("POST /api/settings", s.apiKeyAuth(s.handleSettings))
	mux.HandleFunc("POST /api/notifications/test/{type}", s.apiKeyAuth(s.handleTest))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			s.writeError(w, http.StatusServiceUnavailable, "API key not configured")
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			// Browsers cannot set headers on WebSocket upgrades.
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
