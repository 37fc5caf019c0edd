package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"

	"github.com/oszuidwest/zwfm-loudwatch/internal/audio"
	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/detector"
	"github.com/oszuidwest/zwfm-loudwatch/internal/monitor"
	"github.com/oszuidwest/zwfm-loudwatch/internal/notify"
	"github.com/oszuidwest/zwfm-loudwatch/internal/server"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// maxBodySize caps REST request bodies.
const maxBodySize = 64 << 10

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads, parses and validates the JSON request body.
// Returns parsed value and true on success, zero value and false on failure.
// An empty body yields the zero value.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
			return v, false
		}
	}
	if err := server.Validate(&v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": server.ValidationErrors(err)})
		return v, false
	}
	return v, true
}

// statusFor maps monitor and provider errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrPhoneRequired),
		errors.Is(err, monitor.ErrMessageRequired),
		errors.Is(err, detector.ErrInvalidSettings),
		errors.Is(err, notify.ErrEmptyPhone):
		return http.StatusBadRequest
	case errors.Is(err, detector.ErrAlreadyRunning),
		errors.Is(err, monitor.ErrWorkflowPending),
		errors.Is(err, notify.ErrContactExists):
		return http.StatusConflict
	case errors.Is(err, notify.ErrNotConfigured),
		errors.Is(err, monitor.ErrArchiveDisabled),
		errors.Is(err, detector.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, server.ErrUnknownTest):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth reports liveness without authentication.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   s.monitor.State(),
		"version": Version,
	})
}

// handleListenStart begins a listening session.
// POST /api/listen/start
func (s *Server) handleListenStart(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.ListenStartRequest](s, w, r)
	if !ok {
		return
	}

	err := s.monitor.Start(r.Context(), monitor.StartRequest{
		Phone:     req.Phone,
		Message:   req.Message,
		Threshold: req.Threshold,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.Status())
}

// handleListenStop ends the listening session.
// POST /api/listen/stop
func (s *Server) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.monitor.Stop(); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.Status())
}

// handleStatus returns the full status as pushed over the WebSocket.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleStats returns the most recent tick statistics.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse(s.monitor.Stats()))
}

// handleAddContact registers a contact with the provider.
// POST /api/contacts
func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.ContactAddRequest](s, w, r)
	if !ok {
		return
	}
	if err := s.monitor.AddContact(r.Context(), req.Phone, req.Name); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "contact_added", "phone": req.Phone})
}

// handleEvents returns a page of the event log, newest first.
// GET /api/events?limit=N&offset=N&type=session|trigger|workflow
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.EventsViewRequest{Type: q.Get("type")}

	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
	}
	if err := server.Validate(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": server.ValidationErrors(err)})
		return
	}

	result := server.ReadEvents(s.monitor.EventLogPath(), &req)
	if !result.Success {
		s.writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":  audio.Devices(),
		"platform": runtime.GOOS,
	})
}

// ConfigResponse is the configuration view returned by GET /api/config.
// Secrets are reported as presence flags only.
type ConfigResponse struct {
	AudioInput string `json:"audio_input"`

	Threshold          float64 `json:"threshold"`
	TickMs             int64   `json:"tick_ms"`
	SustainTicks       int     `json:"sustain_ticks"`
	ResetEnergyOnBreak bool    `json:"reset_energy_on_break"`

	Phone   string `json:"phone"`
	Message string `json:"message"`

	Provider           string `json:"provider"`
	ProviderConfigured bool   `json:"provider_configured"`

	WebhookURL       string `json:"webhook_url"`
	LogPath          string `json:"log_path"`
	GraphTenantID    string `json:"graph_tenant_id"`
	GraphClientID    string `json:"graph_client_id"`
	GraphFromAddress string `json:"graph_from_address"`
	GraphRecipients  string `json:"graph_recipients"`
	GraphHasSecret   bool   `json:"graph_has_secret"`
	ZabbixServer     string `json:"zabbix_server"`
	ZabbixPort       int    `json:"zabbix_port"`
	ZabbixHost       string `json:"zabbix_host"`
	ZabbixKey        string `json:"zabbix_key"`

	ArchiveBucket     string `json:"archive_bucket"`
	ArchiveConfigured bool   `json:"archive_configured"`

	EventLogPath string `json:"event_log_path"`
}

// handleConfig returns the effective configuration.
// GET /api/config
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, ConfigResponse{
		AudioInput: cfg.AudioInput,

		Threshold:          cfg.Threshold,
		TickMs:             cfg.Tick.Milliseconds(),
		SustainTicks:       cfg.SustainTicks,
		ResetEnergyOnBreak: cfg.ResetEnergyOnBreak,

		Phone:   cfg.Phone,
		Message: cfg.Message,

		Provider:           cfg.Provider,
		ProviderConfigured: cfg.HasProviderCredentials(),

		WebhookURL:       cfg.WebhookURL,
		LogPath:          cfg.LogPath,
		GraphTenantID:    cfg.GraphTenantID,
		GraphClientID:    cfg.GraphClientID,
		GraphFromAddress: cfg.GraphFromAddress,
		GraphRecipients:  cfg.GraphRecipients,
		GraphHasSecret:   cfg.GraphClientSecret != "",
		ZabbixServer:     cfg.ZabbixServer,
		ZabbixPort:       cfg.ZabbixPort,
		ZabbixHost:       cfg.ZabbixHost,
		ZabbixKey:        cfg.ZabbixKey,

		ArchiveBucket:     cfg.ArchiveBucket,
		ArchiveConfigured: cfg.HasArchive(),

		EventLogPath: cfg.EventLogPath,
	})
}

// SettingsUpdateRequest is the request body for POST /api/settings.
// Nil fields are left unchanged.
type SettingsUpdateRequest struct {
	// Audio
	AudioInput *string `json:"audio_input" validate:"omitempty,max=256"`

	// Detection and workflow
	Threshold *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
	Phone     *string  `json:"phone" validate:"omitempty,max=32"`
	Message   *string  `json:"message" validate:"omitempty,max=1600"`

	// Webhook
	WebhookURL *string `json:"webhook_url" validate:"omitempty,url,max=2048"`

	// Log
	LogPath *string `json:"log_path" validate:"omitempty,max=4096"`

	// Zabbix
	ZabbixServer *string `json:"zabbix_server" validate:"omitempty,max=253"`
	ZabbixPort   *int    `json:"zabbix_port" validate:"omitempty,gte=1,lte=65535"`
	ZabbixHost   *string `json:"zabbix_host" validate:"omitempty,max=253"`
	ZabbixKey    *string `json:"zabbix_key" validate:"omitempty,max=256"`

	// Email (Graph)
	GraphTenantID     *string `json:"graph_tenant_id" validate:"omitempty,max=100"`
	GraphClientID     *string `json:"graph_client_id" validate:"omitempty,max=100"`
	GraphClientSecret *string `json:"graph_client_secret" validate:"omitempty,max=500"`
	GraphFromAddress  *string `json:"graph_from_address" validate:"omitempty,email,max=254"`
	GraphRecipients   *string `json:"graph_recipients" validate:"omitempty,max=1000"`
}

// handleSettings updates the given settings.
// POST /api/settings
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[SettingsUpdateRequest](s, w, r)
	if !ok {
		return
	}

	cfg := s.config.Snapshot()
	for _, apply := range []func(*SettingsUpdateRequest, *config.Snapshot) error{
		s.applyAudioSettings,
		s.applyDetectionSettings,
		s.applyNotificationSettings,
		s.applyGraphSettings,
	} {
		if err := apply(&req, &cfg); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) applyAudioSettings(req *SettingsUpdateRequest, cfg *config.Snapshot) error {
	if req.AudioInput == nil || *req.AudioInput == cfg.AudioInput {
		return nil
	}
	// Picked up by the next listening session.
	return s.config.SetAudioInput(*req.AudioInput)
}

func (s *Server) applyDetectionSettings(req *SettingsUpdateRequest, cfg *config.Snapshot) error {
	if req.Threshold != nil {
		if err := s.config.SetThreshold(*req.Threshold); err != nil {
			return err
		}
	}
	if req.Phone == nil && req.Message == nil {
		return nil
	}
	return s.config.SetWorkflowDefaults(
		coalescePtr(req.Phone, cfg.Phone),
		coalescePtr(req.Message, cfg.Message),
	)
}

func (s *Server) applyNotificationSettings(req *SettingsUpdateRequest, cfg *config.Snapshot) error {
	if req.WebhookURL != nil {
		if err := s.config.SetWebhookURL(*req.WebhookURL); err != nil {
			return err
		}
	}
	if req.LogPath != nil {
		if err := s.config.SetLogPath(*req.LogPath); err != nil {
			return err
		}
	}
	if req.ZabbixServer == nil && req.ZabbixPort == nil && req.ZabbixHost == nil && req.ZabbixKey == nil {
		return nil
	}
	return s.config.SetZabbixConfig(
		coalescePtr(req.ZabbixServer, cfg.ZabbixServer),
		coalescePtr(req.ZabbixPort, cfg.ZabbixPort),
		coalescePtr(req.ZabbixHost, cfg.ZabbixHost),
		coalescePtr(req.ZabbixKey, cfg.ZabbixKey),
	)
}

func (s *Server) applyGraphSettings(req *SettingsUpdateRequest, cfg *config.Snapshot) error {
	if req.GraphTenantID == nil && req.GraphClientID == nil && req.GraphClientSecret == nil &&
		req.GraphFromAddress == nil && req.GraphRecipients == nil {
		return nil
	}
	// An empty secret keeps the stored one.
	secret := cfg.GraphClientSecret
	if req.GraphClientSecret != nil && *req.GraphClientSecret != "" {
		secret = *req.GraphClientSecret
	}
	if err := s.config.SetGraphConfig(
		coalescePtr(req.GraphTenantID, cfg.GraphTenantID),
		coalescePtr(req.GraphClientID, cfg.GraphClientID),
		secret,
		coalescePtr(req.GraphFromAddress, cfg.GraphFromAddress),
		coalescePtr(req.GraphRecipients, cfg.GraphRecipients),
	); err != nil {
		return err
	}
	s.monitor.UpdateGraphConfig()
	return nil
}

// coalescePtr returns *p when p is set, otherwise fallback.
func coalescePtr[T any](p *T, fallback T) T {
	if p != nil {
		return *p
	}
	return fallback
}

// handleTest runs a notification channel test.
// POST /api/notifications/test/{type}
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	testType := r.PathValue("type")
	result := server.WSTestResult{Type: "test_result", TestType: testType, Success: true}

	if err := server.RunTest(r.Context(), s.monitor, testType); err != nil {
		slog.Error("notification test failed", "test", testType, "error", err)
		result.Success = false
		result.Error = err.Error()
		s.writeJSON(w, statusFor(err), result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// statsResponse wraps tick stats the way the WebSocket pushes them.
func statsResponse(stats types.TickStats) types.WSStatsResponse {
	return types.WSStatsResponse{Type: "stats", Stats: stats}
}
