package util

import "log/slog"

// LogNotifyResult runs a notification send and logs its outcome under notifyType.
func LogNotifyResult(fn func() error, notifyType string) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", notifyType, "error", err)
		return
	}
	slog.Info("notification sent", "type", notifyType)
}
