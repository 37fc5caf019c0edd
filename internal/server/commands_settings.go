package server

import (
	"log/slog"
)

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command. The new device is
// used from the next listening session on.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AudioUpdateRequest) error {
		slog.Info("audio/update: changing audio input", "input", req.Input)
		return h.cfg.SetAudioInput(req.Input)
	})
}

// --- Detection and workflow defaults ---

// handleDetectionUpdate processes a detection/update command.
func (h *CommandHandler) handleDetectionUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *DetectionUpdateRequest) error {
		return h.cfg.SetThreshold(req.Threshold)
	})
}

// handleWorkflowUpdate processes a workflow/update command.
func (h *CommandHandler) handleWorkflowUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WorkflowUpdateRequest) error {
		return h.cfg.SetWorkflowDefaults(req.Phone, req.Message)
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
		return h.cfg.SetLogPath(req.Path)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(
			req.TenantID,
			req.ClientID,
			req.ClientSecret,
			req.FromAddress,
			req.Recipients,
		); err != nil {
			return err
		}
		h.monitor.UpdateGraphConfig()
		return nil
	})
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
		return h.cfg.SetZabbixConfig(req.Server, req.Port, req.Host, req.Key)
	})
}
