package notify

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() types.TriggerEvent {
	return types.TriggerEvent{
		ID:        "evt-1",
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Threshold: 0.5,
		Energy:    0.9,
		RunLength: 10,
		Max1:      0.1,
		Max2:      0.09,
		Max3:      0.08,
		Ticks:     12,
	}
}

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
}

func (r *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var p WebhookPayload
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&p))
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

// fakeZabbix accepts one trapper connection and records the item value.
func fakeZabbix(t *testing.T) (host string, port int, values <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		r := bufio.NewReader(conn)
		header := make([]byte, zabbixHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint64(header[5:]))
		if _, err := io.ReadFull(r, body); err != nil {
			return
		}
		var req zabbixRequest
		if json.Unmarshal(body, &req) == nil && len(req.Data) == 1 {
			out <- req.Data[0].Value
		}

		reply := []byte(`{"response":"success","info":"processed: 1; failed: 0; total: 1"}`)
		resp := make([]byte, zabbixHeaderSize)
		copy(resp, zabbixMagic[:])
		binary.LittleEndian.PutUint64(resp[5:], uint64(len(reply)))
		_, _ = conn.Write(append(resp, reply...))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, out
}

func TestTriggerNotifierFansOut(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "alerts.jsonl")
	zHost, zPort, zValues := fakeZabbix(t)

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.SetWebhookURL(srv.URL))
	require.NoError(t, cfg.SetLogPath(logPath))
	require.NoError(t, cfg.SetZabbixConfig(zHost, zPort, "studio", "loudwatch.trigger"))

	n := NewTriggerNotifier(cfg)
	n.HandleTrigger(context.Background(), testEvent(), "+31612345678")
	n.HandleResult(context.Background(), "evt-1", types.ResultDelivered)

	rec.mu.Lock()
	require.Len(t, rec.payloads, 2)
	assert.Equal(t, EventActivityTriggered, rec.payloads[0].Event)
	assert.Equal(t, "evt-1", rec.payloads[0].EventID)
	assert.Equal(t, []float64{0.1, 0.09, 0.08}, rec.payloads[0].Maxima)
	assert.Equal(t, "+31612345678", rec.payloads[0].Phone)
	assert.Equal(t, EventWorkflowCompleted, rec.payloads[1].Event)
	assert.Equal(t, types.ResultDelivered, rec.payloads[1].Result)
	rec.mu.Unlock()

	select {
	case v := <-zValues:
		assert.Contains(t, v, "event=TRIGGERED id=evt-1")
	case <-time.After(time.Second):
		t.Fatal("zabbix item not received")
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var entry types.TriggerLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, EventWorkflowCompleted, entry.Event)
	assert.Equal(t, types.ResultDelivered, entry.Result)
}

func TestTriggerNotifierSkipsUnconfiguredChannels(t *testing.T) {
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	n := NewTriggerNotifier(cfg)

	done := make(chan struct{})
	go func() {
		n.HandleTrigger(context.Background(), testEvent(), "+31")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleTrigger blocked with no channels configured")
	}
}

func TestSendWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	err := SendTestWebhook(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")

	require.Error(t, SendTestWebhook(context.Background(), ""))
}

func TestWriteTestLog(t *testing.T) {
	require.Error(t, WriteTestLog(""))

	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	require.NoError(t, WriteTestLog(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"test"`)
}

func TestSendTestZabbix(t *testing.T) {
	require.Error(t, SendTestZabbix(context.Background(), "", 0, "", ""))

	host, port, values := fakeZabbix(t)
	require.NoError(t, SendTestZabbix(context.Background(), host, port, "studio", "key"))
	assert.Equal(t, "event=TEST source=zwfm-loudwatch", <-values)
}

func TestTriggerEmailContent(t *testing.T) {
	ev := testEvent()
	subject, body, attachment := triggerEmail(&ev, "+31612345678")
	assert.Contains(t, subject, "Loud activity detected")
	assert.Contains(t, body, "0.9000")
	assert.Contains(t, body, "+31612345678")
	require.NotNil(t, attachment)
	assert.Equal(t, "trigger-evt-1.json", attachment.Filename)
	assert.Contains(t, string(attachment.Data), `"run_length": 10`)
}

func TestGraphConfigHelpers(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, ParseRecipients(" a@example.com, ,b@example.com"))

	cfg := &GraphConfig{
		TenantID:     "12345678-1234-1234-1234-123456789abc",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "s",
		FromAddress:  "alerts@example.com",
		Recipients:   "ops@example.com",
	}
	assert.True(t, IsConfigured(cfg))
	require.NoError(t, ValidateConfig(cfg))

	cfg.TenantID = "not-a-guid"
	require.Error(t, ValidateConfig(cfg))
}
