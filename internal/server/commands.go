package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/monitor"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg     *config.Config
	monitor *monitor.Monitor
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, mon *monitor.Monitor) *CommandHandler {
	return &CommandHandler{
		cfg:     cfg,
		monitor: mon,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "listen/start", "contacts/add")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "listen":
		h.handleListen(action, cmd, send, triggerStatusUpdate)
	case "contacts":
		h.handleContacts(action, cmd, send, triggerStatusUpdate)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "detection":
		h.handleDetection(action, cmd, send)
	case "workflow":
		h.handleWorkflow(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleListen routes listen/* commands
func (h *CommandHandler) handleListen(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "start":
		var req ListenStartRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStatusUpdate()
			err := h.monitor.Start(context.Background(), monitor.StartRequest{
				Phone:     req.Phone,
				Message:   req.Message,
				Threshold: req.Threshold,
			})
			return nil, err
		})
	case "stop":
		HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStatusUpdate()
			return nil, h.monitor.Stop()
		})
	default:
		slog.Warn("unknown listen action", "action", action)
	}
}

// handleContacts routes contacts/* commands
func (h *CommandHandler) handleContacts(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "add":
		var req ContactAddRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStatusUpdate()
			return nil, h.monitor.AddContact(context.Background(), req.Phone, req.Name)
		})
	default:
		slog.Warn("unknown contacts action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleDetection routes detection/* commands
func (h *CommandHandler) handleDetection(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleDetectionUpdate(cmd, send)
	default:
		slog.Warn("unknown detection action", "action", action)
	}
}

// handleWorkflow routes workflow/* commands
func (h *CommandHandler) handleWorkflow(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleWorkflowUpdate(cmd, send)
	default:
		slog.Warn("unknown workflow action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	if subaction == "test" {
		h.handleTest(send, action)
		return
	}
	if subaction != "update" {
		slog.Warn("unknown notifications action", "action", action, "subaction", subaction)
		return
	}

	switch action {
	case "webhook":
		h.handleWebhookUpdate(cmd, send)
	case "log":
		h.handleLogUpdate(cmd, send)
	case "email":
		h.handleEmailUpdate(cmd, send)
	case "zabbix":
		h.handleZabbixUpdate(cmd, send)
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		h.handleViewEvents(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
