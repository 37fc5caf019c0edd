package server

// Request types for WebSocket commands and REST endpoints. Validation uses
// go-playground/validator struct tags.

// --- Listening session ---

// ListenStartRequest is the request body for listen/start.
type ListenStartRequest struct {
	Phone     string   `json:"phone" validate:"omitempty,max=32"`
	Message   string   `json:"message" validate:"omitempty,max=1600"`
	Threshold *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

// --- Contacts ---

// ContactAddRequest is the request body for contacts/add.
type ContactAddRequest struct {
	Phone string `json:"phone" validate:"required,max=32"`
	Name  string `json:"name" validate:"omitempty,max=100"`
}

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}

// --- Detection and workflow defaults ---

// DetectionUpdateRequest is the request body for detection/update.
type DetectionUpdateRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
}

// WorkflowUpdateRequest is the request body for workflow/update.
type WorkflowUpdateRequest struct {
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Message string `json:"message" validate:"omitempty,max=1600"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}

// --- Event log ---

// EventsViewRequest is the request body for events/view.
type EventsViewRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Type   string `json:"type" validate:"omitempty,oneof=session trigger workflow"`
}
