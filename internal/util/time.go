package util

import (
	"fmt"
	"time"
)

// humanTimeFormat is the layout for timestamps shown in alert texts.
const humanTimeFormat = "2 Jan 2006 15:04:05 MST"

// HumanTime formats t as local time for alert texts.
func HumanTime(t time.Time) string {
	return t.Local().Format(humanTimeFormat)
}

// FormatHumanTime converts an RFC3339 timestamp to local human-readable form.
// Unparseable input is returned unchanged.
func FormatHumanTime(rfc3339 string) string {
	if rfc3339 == "" || rfc3339 == "unknown" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return HumanTime(t)
}

// FormatDuration formats d as "850ms", "45s", "2m 34s" or "1h 23m".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	total := int64(d / time.Second)
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	minutes, seconds := total/60, total%60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
