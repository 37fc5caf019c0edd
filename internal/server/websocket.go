package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// Push intervals for WebSocket clients.
const (
	statsInterval  = 100 * time.Millisecond  // Live meter refresh
	statusInterval = 3000 * time.Millisecond // Full status refresh
	sendBuffer     = 16
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// StatusFunc builds the full status pushed to clients.
type StatusFunc func() types.WSStatusResponse

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests and non-browser clients omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to WebSocket.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Serve runs a WebSocket session: it pushes tick stats and status to the
// client and dispatches incoming commands until the client disconnects.
func (h *CommandHandler) Serve(conn WebSocketConn, status StatusFunc) {
	// Only the writer goroutine writes to the connection.
	send := make(chan any, sendBuffer)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go runWriter(conn, send)
	go h.runReader(conn, send, done, statusUpdate)

	h.runEventLoop(send, done, statusUpdate, status)
}

// runWriter writes messages from the send channel to the connection.
func runWriter(conn WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runReader reads commands from the connection and dispatches them.
func (h *CommandHandler) runReader(conn WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		h.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runEventLoop pushes periodic stats and status updates.
func (h *CommandHandler) runEventLoop(send chan any, done, statusUpdate <-chan struct{}, status StatusFunc) {
	statsTicker := time.NewTicker(statsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer statsTicker.Stop()
	defer statusTicker.Stop()
	defer close(send)

	push := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !push(status()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = status()
		case <-statusTicker.C:
			msg = status()
		case <-statsTicker.C:
			msg = types.WSStatsResponse{Type: "stats", Stats: h.monitor.Stats()}
		}
		if !push(msg) {
			return
		}
	}
}
