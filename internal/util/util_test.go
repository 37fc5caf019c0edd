package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("send", nil))

	base := errors.New("boom")
	err := WrapError("send message", base)
	require.ErrorIs(t, err, base)
	assert.Equal(t, "failed to send message: boom", err.Error())
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "", LastLine("  \n\n"))
	assert.Equal(t, "second", LastLine("first\nsecond\n\n"))

	long := make([]byte, maxErrorLineLength+10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, LastLine(string(long)), maxErrorLineLength+3)
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoff(time.Second, 3*time.Second)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffWaitHonoursContext(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.Wait(ctx), context.Canceled)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		850 * time.Millisecond:         "850ms",
		45 * time.Second:               "45s",
		2*time.Minute + 34*time.Second: "2m 34s",
		time.Hour + 23*time.Minute:     "1h 23m",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatDuration(in), in.String())
	}
}

func TestValidatePath(t *testing.T) {
	assert.Error(t, ValidatePath("log", ""))
	assert.Error(t, ValidatePath("log", "../etc/passwd"))
	assert.NoError(t, ValidatePath("log", "/var/log/loudwatch/events.jsonl"))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", " "))
	assert.True(t, IsConfigured())
}
