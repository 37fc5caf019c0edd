package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/detector"
	"github.com/oszuidwest/zwfm-loudwatch/internal/monitor"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentSource struct{}

func (silentSource) Acquire(context.Context) error { return nil }
func (silentSource) Sample() (float64, error)      { return 0, nil }
func (silentSource) Release() error                { return nil }

type nopProvider struct{}

func (nopProvider) FindContactIDs(context.Context, string) ([]string, error) { return nil, nil }
func (nopProvider) SendMessage(context.Context, []string, string) error      { return nil }
func (nopProvider) AddContact(context.Context, string, string) error         { return nil }

type nopAlerter struct{}

func (nopAlerter) HandleTrigger(context.Context, types.TriggerEvent, string)  {}
func (nopAlerter) HandleResult(context.Context, string, types.WorkflowResult) {}

func newTestHandler(t *testing.T) (*CommandHandler, *config.Config) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	mon, err := monitor.New(cfg, "",
		monitor.WithSource(func(string) detector.Source { return silentSource{} }),
		monitor.WithProvider(nopProvider{}),
		monitor.WithAlerter(nopAlerter{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close() })

	return NewCommandHandler(cfg, mon), cfg
}

func command(t *testing.T, typ string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}
	return cmd
}

func receive(t *testing.T, send <-chan any) map[string]any {
	t.Helper()
	select {
	case msg := <-send:
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
	return nil
}

func TestValidationErrorsUseJSONNames(t *testing.T) {
	tooLoud := 2.0
	err := Validate(&ListenStartRequest{Threshold: &tooLoud})
	require.Error(t, err)

	verr := ValidationErrors(err)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "threshold", verr.Errors[0].Field)
	assert.Equal(t, "must be less than or equal to 1", verr.Errors[0].Message)

	require.Error(t, Validate(&ContactAddRequest{}))
	require.NoError(t, Validate(&ContactAddRequest{Phone: "+31600000000"}))
}

func TestHandleDetectionUpdatePersists(t *testing.T) {
	h, cfg := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(command(t, "detection/update", DetectionUpdateRequest{Threshold: 0.25}), send, func() {})

	resp := receive(t, send)
	assert.Equal(t, "detection/update_result", resp["type"])
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 0.25, cfg.Snapshot().Threshold)
}

func TestHandleRejectsInvalidCommands(t *testing.T) {
	h, _ := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(WSCommand{Type: "listen/start", Data: json.RawMessage(`{`)}, send, func() {})
	resp := receive(t, send)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "invalid JSON")

	h.Handle(command(t, "contacts/add", ContactAddRequest{}), send, func() {})
	resp = receive(t, send)
	assert.Equal(t, false, resp["success"])
	errs := resp["error"].(map[string]any)["errors"].([]any)
	assert.Equal(t, "phone", errs[0].(map[string]any)["field"])
}

func TestHandleListenStartAndStop(t *testing.T) {
	h, _ := newTestHandler(t)
	send := make(chan any, 4)
	updates := make(chan struct{}, 8)
	notify := func() { updates <- struct{}{} }

	h.Handle(command(t, "listen/start", ListenStartRequest{Phone: "+31600000000"}), send, notify)
	resp := receive(t, send)
	assert.Equal(t, "listen/start_result", resp["type"])
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, types.StateListening, h.monitor.State())

	h.Handle(command(t, "listen/stop", nil), send, notify)
	resp = receive(t, send)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, types.StateIdle, h.monitor.State())
	assert.NotEmpty(t, updates)
}

func TestHandleEventsView(t *testing.T) {
	h, _ := newTestHandler(t)
	send := make(chan any, 4)

	require.NoError(t, h.monitor.AddContact(context.Background(), "+31600000000", "Desk"))

	h.Handle(command(t, "events/view", EventsViewRequest{Limit: 5}), send, func() {})
	resp := receive(t, send)
	assert.Equal(t, "events_result", resp["type"])
	assert.Equal(t, true, resp["success"])
	assert.Len(t, resp["events"], 1)

	result := ReadEvents(h.monitor.EventLogPath(), &EventsViewRequest{Type: "stream"})
	assert.False(t, result.Success)
}

func TestRunTestUnknownType(t *testing.T) {
	h, _ := newTestHandler(t)
	require.ErrorIs(t, RunTest(context.Background(), h.monitor, "pager"), ErrUnknownTest)
	require.ErrorIs(t, RunTest(context.Background(), h.monitor, "archive"), monitor.ErrArchiveDisabled)
}

type fakeConn struct {
	in     chan WSCommand
	out    chan any
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan WSCommand),
		out:    make(chan any, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	cmd, ok := <-c.in
	if !ok {
		return io.EOF
	}
	*v.(*WSCommand) = cmd
	return nil
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case c.out <- v:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	close(c.closed)
	return nil
}

func TestServePushesStatusAndStats(t *testing.T) {
	h, _ := newTestHandler(t)
	conn := newFakeConn()
	status := func() types.WSStatusResponse {
		return types.WSStatusResponse{Type: "status", Monitor: h.monitor.Status()}
	}

	served := make(chan struct{})
	go func() {
		h.Serve(conn, status)
		close(served)
	}()

	first := <-conn.out
	assert.Equal(t, "status", first.(types.WSStatusResponse).Type)

	deadline := time.After(2 * time.Second)
	for gotStats := false; !gotStats; {
		select {
		case msg := <-conn.out:
			_, gotStats = msg.(types.WSStatsResponse)
		case <-deadline:
			t.Fatal("no stats pushed")
		}
	}

	close(conn.in)
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after client disconnect")
	}
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := map[string]bool{
		"":                       true,
		"http://localhost:3000":  true,
		"http://192.168.1.20":    true,
		"http://loudwatch.local": true,
		"https://evil.example":   false,
		"://bad":                 false,
	}
	for origin, want := range tests {
		r := httptest.NewRequest("GET", "http://loudwatch.local:8080/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, checkOrigin(r), origin)
	}
}
