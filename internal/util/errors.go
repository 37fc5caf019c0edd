// Package util holds small helpers shared by the loudwatch packages.
package util

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// maxErrorLineLength caps error text taken from subprocess stderr.
const maxErrorLineLength = 200

// WrapError wraps err with the operation that failed.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// SafeCloseFunc returns a func that closes c and logs a failure under name.
// Intended for use with defer.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			slog.Warn("close failed", "resource", name, "error", err)
		}
	}
}

// LastLine returns the last non-empty line of s, truncated for log output.
func LastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}
