// Package types provides shared type definitions used across loudwatch.
package types

import "time"

// DetectorState is the lifecycle state of an activity detector.
type DetectorState string

const (
	// StateIdle indicates no listening session is active.
	StateIdle DetectorState = "idle"
	// StateListening indicates the detector is sampling audio.
	StateListening DetectorState = "listening"
	// StateTriggered indicates sustained activity was detected and sampling stopped.
	StateTriggered DetectorState = "triggered"
)

// WorkflowResult is the terminal outcome of one notification workflow run.
type WorkflowResult string

const (
	// ResultDelivered indicates the message was accepted by the provider.
	ResultDelivered WorkflowResult = "delivered"
	// ResultNoContactFound indicates the lookup succeeded but matched nothing.
	ResultNoContactFound WorkflowResult = "no_contact_found"
	// ResultDeliveryFailed indicates the provider rejected the message.
	ResultDeliveryFailed WorkflowResult = "delivery_failed"
	// ResultLookupFailed indicates the contact lookup itself failed.
	ResultLookupFailed WorkflowResult = "lookup_failed"
)

// Detection defaults.
const (
	// DefaultTickDuration is the sampling interval.
	DefaultTickDuration = 100 * time.Millisecond
	// DefaultSustainTicks is the contiguous above-threshold ticks needed to trigger.
	DefaultSustainTicks = 10
	// DefaultStatusClearDelay is how long a delivered status stays visible.
	DefaultStatusClearDelay = 2000 * time.Millisecond
)

const (
	// ShutdownTimeout is how long a capture process gets to exit gracefully.
	ShutdownTimeout = 3000 * time.Millisecond
	// HTTPTimeout bounds each outbound provider request.
	HTTPTimeout = 10000 * time.Millisecond
)

// Audio capture format.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of captured channels (folded to one amplitude).
	Channels = 2
)

// TriggerEvent is emitted once per listening session when sustained loud
// activity is detected.
type TriggerEvent struct {
	ID        string    `json:"id"`         // Correlation token
	At        time.Time `json:"at"`         // Tick on which the trigger fired
	Threshold float64   `json:"threshold"`  // Amplitude threshold in effect
	Energy    float64   `json:"energy"`     // Accumulated energy at trigger time
	RunLength int       `json:"run_length"` // Contiguous above-threshold ticks
	Max1      float64   `json:"max1"`       // Largest scaled sample this session
	Max2      float64   `json:"max2"`       // Second largest scaled sample
	Max3      float64   `json:"max3"`       // Third largest scaled sample
	Ticks     int       `json:"ticks"`      // Ticks processed this session
}

// TickStats is a snapshot of detector statistics after a tick.
type TickStats struct {
	State     DetectorState `json:"state"`
	Sample    float64       `json:"sample"`
	Energy    float64       `json:"energy"`
	RunLength int           `json:"run_length"`
	Max1      float64       `json:"max1"`
	Max2      float64       `json:"max2"`
	Max3      float64       `json:"max3"`
	Ticks     int           `json:"ticks"`
}

// WorkflowStatus is the user-facing state of the notification workflow.
type WorkflowStatus struct {
	Text               string         `json:"text,omitzero"`                 // Transient status line
	AddContactRequired bool           `json:"add_contact_required,omitzero"` // Lookup found nobody
	Pending            bool           `json:"pending,omitzero"`              // A run is in progress
	LastResult         WorkflowResult `json:"last_result,omitzero"`          // Outcome of the last run
	LastError          string         `json:"last_error,omitzero"`           // Failure detail of the last run
}

// SessionInfo describes the current or most recent listening session.
type SessionInfo struct {
	Phone     string    `json:"phone"`
	Threshold float64   `json:"threshold"`
	StartedAt time.Time `json:"started_at"`
}

// MonitorStatus summarises the monitor for API and WebSocket clients.
type MonitorStatus struct {
	State     DetectorState  `json:"state"`
	Uptime    string         `json:"uptime,omitzero"`
	LastError string         `json:"last_error,omitzero"`
	Session   *SessionInfo   `json:"session,omitempty"`
	LastEvent *TriggerEvent  `json:"last_event,omitempty"`
	Workflow  WorkflowStatus `json:"workflow"`
	Provider  string         `json:"provider"`
}

// WSStatusResponse is pushed to WebSocket clients with the full status.
type WSStatusResponse struct {
	Type            string        `json:"type"`
	FFmpegAvailable bool          `json:"ffmpeg_available"`
	Monitor         MonitorStatus `json:"monitor"`
	Devices         []AudioDevice `json:"devices"`
	Version         VersionInfo   `json:"version"`
}

// WSStatsResponse is pushed to WebSocket clients on every stats interval.
type WSStatsResponse struct {
	Type  string    `json:"type"`
	Stats TickStats `json:"stats"`
}

// AudioDevice is an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// GraphConfig contains Microsoft Graph settings for alert e-mail.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	FromAddress  string `json:"from_address,omitempty"`
	Recipients   string `json:"recipients,omitempty"` // Comma-separated
}

// TriggerLogEntry is one line of the notification JSON log.
type TriggerLogEntry struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	EventID   string         `json:"event_id,omitempty"`
	Energy    float64        `json:"energy,omitempty"`
	Threshold float64        `json:"threshold,omitempty"`
	Maxima    []float64      `json:"maxima,omitempty"`
	Result    WorkflowResult `json:"result,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
}
