package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestReadLastNewestFirstWithFilter(t *testing.T) {
	l := newTestLogger(t)
	session := &types.SessionInfo{Phone: "+31600000000", Threshold: 0.5, StartedAt: time.Now()}

	require.NoError(t, l.LogSessionStarted(session, "default"))
	require.NoError(t, l.LogTriggered(&types.TriggerEvent{ID: "ev-1", At: time.Now(), Energy: 10}))
	require.NoError(t, l.LogWorkflowResult("ev-1", &ResultDetails{Result: types.ResultDelivered, Phone: session.Phone, ArchiveKey: "triggers/ev-1.json"}))
	require.NoError(t, l.LogSessionStopped(session, "triggered", ""))

	all, more, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, all, 4)
	assert.Equal(t, SessionStopped, all[0].Type)
	assert.Equal(t, SessionStarted, all[3].Type)

	triggers, _, err := ReadLast(l.Path(), 10, 0, FilterTrigger)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "ev-1", triggers[0].EventID)
}

func TestReadLastPagination(t *testing.T) {
	l := newTestLogger(t)
	for range 5 {
		require.NoError(t, l.LogContactAdded("+31", "desk"))
	}

	page, more, err := ReadLast(l.Path(), 2, 0, FilterWorkflow)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, more)

	page, more, err = ReadLast(l.Path(), 2, 4, FilterWorkflow)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.False(t, more)

	page, more, err = ReadLast(l.Path(), 5, 0, FilterWorkflow)
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.False(t, more)
}

func TestReadLastMissingFileAndMalformedLines(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, more)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"type\":\"triggered\"}\n"), 0o600))
	events, _, err = ReadLast(path, 10, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Triggered, events[0].Type)
}

func TestParseFilter(t *testing.T) {
	f, ok := ParseFilter("session")
	assert.True(t, ok)
	assert.Equal(t, FilterSession, f)

	_, ok = ParseFilter("stream")
	assert.False(t, ok)
}
