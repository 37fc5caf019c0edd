package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// LogTrigger records a trigger in the notification log.
func LogTrigger(logPath string, ev *types.TriggerEvent) error {
	return appendLogEntry(logPath, &types.TriggerLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventActivityTriggered,
		EventID:   ev.ID,
		Energy:    ev.Energy,
		Threshold: ev.Threshold,
		Maxima:    []float64{ev.Max1, ev.Max2, ev.Max3},
	})
}

// LogResult records the workflow outcome for a trigger.
func LogResult(logPath, eventID string, result types.WorkflowResult) error {
	return appendLogEntry(logPath, &types.TriggerLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventWorkflowCompleted,
		EventID:   eventID,
		Result:    result,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.TriggerLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventTest,
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.TriggerLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
