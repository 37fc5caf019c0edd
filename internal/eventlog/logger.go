// Package eventlog records listening sessions, triggers and workflow
// outcomes in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
)

// Detection event types.
const (
	Triggered      EventType = "triggered"
	WorkflowResult EventType = "workflow_result"
	ContactAdded   EventType = "contact_added"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	EventID   string    `json:"event_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	Phone     string  `json:"phone,omitempty"`
	Threshold float64 `json:"threshold"`
	Device    string  `json:"device,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// TriggerDetails contains trigger-specific event details.
type TriggerDetails struct {
	Energy    float64 `json:"energy"`
	Threshold float64 `json:"threshold"`
	RunLength int     `json:"run_length"`
	Max1      float64 `json:"max1"`
	Max2      float64 `json:"max2"`
	Max3      float64 `json:"max3"`
	Ticks     int     `json:"ticks"`
}

// ResultDetails contains workflow outcome details.
type ResultDetails struct {
	Result     types.WorkflowResult `json:"result,omitempty"`
	Phone      string               `json:"phone,omitempty"`
	Error      string               `json:"error,omitempty"`
	ArchiveKey string               `json:"archive_key,omitempty"` // S3 key of the archived trigger record
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSessionStarted logs the start of a listening session.
func (l *Logger) LogSessionStarted(session *types.SessionInfo, device string) error {
	return l.Log(&Event{
		Timestamp: session.StartedAt,
		Type:      SessionStarted,
		Details: &SessionDetails{
			Phone:     session.Phone,
			Threshold: session.Threshold,
			Device:    device,
		},
	})
}

// LogSessionStopped logs the end of a listening session. reason is a short
// operator-facing explanation such as "stopped" or "triggered".
func (l *Logger) LogSessionStopped(session *types.SessionInfo, reason, errMsg string) error {
	d := &SessionDetails{Error: errMsg}
	if session != nil {
		d.Phone = session.Phone
		d.Threshold = session.Threshold
	}
	return l.Log(&Event{
		Type:    SessionStopped,
		Message: reason,
		Details: d,
	})
}

// LogTriggered logs a trigger event.
func (l *Logger) LogTriggered(ev *types.TriggerEvent) error {
	return l.Log(&Event{
		Timestamp: ev.At,
		Type:      Triggered,
		EventID:   ev.ID,
		Details: &TriggerDetails{
			Energy:    ev.Energy,
			Threshold: ev.Threshold,
			RunLength: ev.RunLength,
			Max1:      ev.Max1,
			Max2:      ev.Max2,
			Max3:      ev.Max3,
			Ticks:     ev.Ticks,
		},
	})
}

// LogWorkflowResult logs the outcome of a notification workflow run.
func (l *Logger) LogWorkflowResult(eventID string, details *ResultDetails) error {
	return l.Log(&Event{
		Type:    WorkflowResult,
		EventID: eventID,
		Details: details,
	})
}

// LogContactAdded logs a contact registration.
func (l *Logger) LogContactAdded(phone, name string) error {
	return l.Log(&Event{
		Type:    ContactAdded,
		Message: name,
		Details: &ResultDetails{Phone: phone},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterSession  TypeFilter = "session"
	FilterTrigger  TypeFilter = "trigger"
	FilterWorkflow TypeFilter = "workflow"
)

// ParseFilter converts a query parameter into a TypeFilter.
func ParseFilter(s string) (TypeFilter, bool) {
	switch f := TypeFilter(s); f {
	case FilterAll, FilterSession, FilterTrigger, FilterWorkflow:
		return f, true
	default:
		return FilterAll, false
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest
// first, and whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}

		if skipped < offset {
			skipped++
			continue
		}

		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterSession:
		return t == SessionStarted || t == SessionStopped
	case FilterTrigger:
		return t == Triggered
	case FilterWorkflow:
		return t == WorkflowResult || t == ContactAdded
	default:
		return true
	}
}
