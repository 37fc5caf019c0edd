package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/eventlog"
)

// testTimeout bounds a single notification test.
const testTimeout = 30000 * time.Millisecond

// DefaultEventsLimit is the page size when events/view omits a limit.
const DefaultEventsLimit = 100

// ErrUnknownTest is returned by RunTest for an unsupported channel.
var ErrUnknownTest = errors.New("unknown test type")

// WSTestResult is the response to a notifications/*/test command.
type WSTestResult struct {
	Type     string `json:"type"`
	TestType string `json:"test_type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// WSEventsResult is the response to an events/view command.
type WSEventsResult struct {
	Type    string           `json:"type"`
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Events  []eventlog.Event `json:"events,omitempty"`
	HasMore bool             `json:"has_more"`
	Path    string           `json:"path,omitempty"`
}

// RunTest dispatches to the matching notification test on the monitor.
func RunTest(ctx context.Context, mon TestRunner, testType string) error {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	switch testType {
	case "webhook":
		return mon.TriggerTestWebhook(ctx)
	case "log":
		return mon.TriggerTestLog(ctx)
	case "email":
		return mon.TriggerTestEmail(ctx)
	case "zabbix":
		return mon.TriggerTestZabbix(ctx)
	case "archive":
		return mon.TriggerTestArchive(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTest, testType)
	}
}

// TestRunner runs notification channel tests.
type TestRunner interface {
	TriggerTestWebhook(ctx context.Context) error
	TriggerTestLog(ctx context.Context) error
	TriggerTestEmail(ctx context.Context) error
	TriggerTestZabbix(ctx context.Context) error
	TriggerTestArchive(ctx context.Context) error
}

// handleTest executes a notification test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, testType string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		result := WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := RunTest(context.Background(), h.monitor, testType); err != nil {
			slog.Error("notification test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("notification test succeeded", "test", testType)
		}

		trySend(send, "test_result", result)
	}()
}

// handleViewEvents reads a page of the event log.
func (h *CommandHandler) handleViewEvents(cmd WSCommand, send chan<- any) {
	var req EventsViewRequest
	if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in events handler", "panic", r)
			}
		}()

		result := ReadEvents(h.monitor.EventLogPath(), &req)
		trySend(send, "events_result", result)
	}()
}

// ReadEvents returns one page of the event log for req.
func ReadEvents(path string, req *EventsViewRequest) WSEventsResult {
	result := WSEventsResult{Type: "events_result", Success: true, Path: path}
	if path == "" {
		result.Success = false
		result.Error = "Event log is disabled"
		return result
	}

	filter, ok := eventlog.ParseFilter(req.Type)
	if !ok {
		result.Success = false
		result.Error = "unknown event type filter: " + req.Type
		return result
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultEventsLimit
	}

	events, hasMore, err := eventlog.ReadLast(path, limit, req.Offset, filter)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Events = events
	result.HasMore = hasMore
	return result
}
