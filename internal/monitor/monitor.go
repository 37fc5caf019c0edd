// Package monitor ties a listening session to its consequences: it runs
// the activity detector, and on a trigger fans the event out to the alert
// channels, runs the contact notification workflow and archives the result.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/archive"
	"github.com/oszuidwest/zwfm-loudwatch/internal/audio"
	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/detector"
	"github.com/oszuidwest/zwfm-loudwatch/internal/eventlog"
	"github.com/oszuidwest/zwfm-loudwatch/internal/notify"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// Sentinel errors for monitor operations.
var (
	ErrWorkflowPending = errors.New("notification workflow still running")
	ErrPhoneRequired   = errors.New("phone number is required")
	ErrMessageRequired = errors.New("message text is required")
	ErrArchiveDisabled = errors.New("S3 archive is not configured")
)

// Alerter reports triggers and workflow outcomes to operator channels.
type Alerter interface {
	HandleTrigger(ctx context.Context, ev types.TriggerEvent, phone string)
	HandleResult(ctx context.Context, eventID string, result types.WorkflowResult)
}

// Archiver stores trigger records.
type Archiver interface {
	Upload(ctx context.Context, rec archive.Record) (string, error)
	TestConnection(ctx context.Context) error
}

// SourceFunc creates the amplitude source for a capture device.
type SourceFunc func(device string) detector.Source

// StartRequest holds the per-session parameters. Empty fields fall back to
// the configured defaults.
type StartRequest struct {
	Phone     string
	Message   string
	Threshold *float64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSource replaces the audio capture source.
func WithSource(fn SourceFunc) Option {
	return func(m *Monitor) { m.newSource = fn }
}

// WithTicker replaces the detector's wall-clock ticker.
func WithTicker(fn detector.TickerFunc) Option {
	return func(m *Monitor) { m.newTicker = fn }
}

// WithProvider replaces the configured messaging provider.
func WithProvider(p notify.Provider) Option {
	return func(m *Monitor) { m.provider = p }
}

// WithAlerter replaces the alert fan-out.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerts = a }
}

// WithArchiver replaces the S3 archive.
func WithArchiver(a Archiver) Option {
	return func(m *Monitor) { m.archiver = a }
}

// Monitor runs one listening session at a time.
type Monitor struct {
	config    *config.Config
	newSource SourceFunc
	newTicker detector.TickerFunc
	provider  notify.Provider
	workflow  *notify.Workflow
	alerts    Alerter
	archiver  Archiver
	events    *eventlog.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	detector  *detector.Detector
	cancel    context.CancelFunc
	handling  bool
	session   *types.SessionInfo
	lastEvent *types.TriggerEvent
	lastError string
	startTime time.Time
	lastStats types.TickStats

	wg sync.WaitGroup
}

// New creates a Monitor from cfg. ffmpegPath is used on platforms that
// capture through FFmpeg.
func New(cfg *config.Config, ffmpegPath string, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		config: cfg,
		newSource: func(device string) detector.Source {
			return audio.NewCaptureSource(device, ffmpegPath)
		},
		newTicker: detector.NewTicker,
		lastStats: types.TickStats{State: types.StateIdle},
	}
	for _, opt := range opts {
		opt(m)
	}

	snap := cfg.Snapshot()

	if m.provider == nil {
		p, err := newProvider(snap)
		if err != nil {
			return nil, util.WrapError("create messaging provider", err)
		}
		m.provider = p
	}
	m.workflow = notify.NewWorkflow(m.provider, snap.StatusClearDelay)

	if m.alerts == nil {
		m.alerts = notify.NewTriggerNotifier(cfg)
	}

	if m.archiver == nil && snap.HasArchive() {
		a, err := archive.New(archiveConfig(&snap))
		if err != nil {
			return nil, util.WrapError("create trigger archive", err)
		}
		m.archiver = a
	}

	events, err := eventlog.NewLogger(snap.EventLogPath)
	if err != nil {
		slog.Warn("event log disabled", "path", snap.EventLogPath, "error", err)
	} else {
		m.events = events
	}

	return m, nil
}

func archiveConfig(snap *config.Snapshot) *archive.Config {
	return &archive.Config{
		Endpoint:        snap.ArchiveEndpoint,
		Region:          snap.ArchiveRegion,
		Bucket:          snap.ArchiveBucket,
		Prefix:          snap.ArchivePrefix,
		AccessKeyID:     snap.ArchiveAccessKeyID,
		SecretAccessKey: snap.ArchiveSecretAccessKey,
	}
}

// Start begins a listening session. It fails while a previous trigger is
// still being handled.
func (m *Monitor) Start(ctx context.Context, req StartRequest) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	snap := m.config.Snapshot()

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		phone = snap.Phone
	}
	if phone == "" {
		return ErrPhoneRequired
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = snap.Message
	}
	if message == "" {
		return ErrMessageRequired
	}
	threshold := snap.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	m.mu.RLock()
	handling, prev := m.handling, m.detector
	m.mu.RUnlock()

	if handling || m.workflow.Pending() {
		return ErrWorkflowPending
	}
	if prev != nil {
		switch prev.State() {
		case types.StateListening:
			return detector.ErrAlreadyRunning
		case types.StateTriggered:
			return ErrWorkflowPending
		}
	}

	settings := detector.Settings{
		Threshold:          threshold,
		Tick:               snap.Tick,
		SustainTicks:       snap.SustainTicks,
		ResetEnergyOnBreak: snap.ResetEnergyOnBreak,
	}
	d := detector.New(m.newSource(snap.AudioInput),
		detector.WithTicker(m.newTicker),
		detector.WithObserver(m.observe),
	)

	triggers, err := d.Start(ctx, settings)
	if err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &types.SessionInfo{Phone: phone, Threshold: threshold, StartedAt: time.Now()}

	m.mu.Lock()
	m.detector = d
	m.cancel = cancel
	m.session = session
	m.startTime = session.StartedAt
	m.lastError = ""
	m.lastStats = types.TickStats{State: types.StateListening}
	m.mu.Unlock()

	m.logEvent(func(l *eventlog.Logger) error { return l.LogSessionStarted(session, snap.AudioInput) })
	slog.Info("listening session started", "phone", phone, "threshold", threshold)

	m.wg.Go(func() {
		m.awaitTrigger(sessionCtx, d, triggers, session, message)
	})
	return nil
}

// Stop ends the current session. In-flight provider and alert calls are
// abandoned through their context.
func (m *Monitor) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	d, cancel, session := m.detector, m.cancel, m.session
	m.mu.RUnlock()

	if d == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	wasListening := d.State() == types.StateListening
	err := d.Stop()
	if wasListening {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		m.logEvent(func(l *eventlog.Logger) error { return l.LogSessionStopped(session, "stopped", errMsg) })
		slog.Info("listening session stopped")
	}
	return err
}

// Close stops the session, waits for trigger handling to finish and closes
// the event log.
func (m *Monitor) Close() error {
	var errs []error
	if err := m.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}
	m.wg.Wait()
	m.workflow.Close()
	if m.events != nil {
		if err := m.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event log: %w", err))
		}
	}
	return errors.Join(errs...)
}

// awaitTrigger waits for the session to trigger or end.
func (m *Monitor) awaitTrigger(ctx context.Context, d *detector.Detector, triggers <-chan types.TriggerEvent, session *types.SessionInfo, message string) {
	ev, ok := <-triggers
	if !ok {
		return
	}

	m.mu.Lock()
	m.handling = true
	m.lastEvent = &ev
	m.mu.Unlock()

	defer func() {
		if err := d.Stop(); err != nil {
			slog.Warn("failed to stop detector after trigger", "error", err)
		}
		m.mu.Lock()
		m.handling = false
		m.mu.Unlock()
	}()

	m.logEvent(func(l *eventlog.Logger) error { return l.LogTriggered(&ev) })
	m.logEvent(func(l *eventlog.Logger) error { return l.LogSessionStopped(session, "triggered", "") })

	m.handleTrigger(ctx, &ev, session.Phone, message)
}

// handleTrigger alerts the operator channels while the workflow notifies
// the contact, then archives and reports the outcome.
func (m *Monitor) handleTrigger(ctx context.Context, ev *types.TriggerEvent, phone, message string) {
	var wg sync.WaitGroup
	wg.Go(func() {
		m.alerts.HandleTrigger(ctx, *ev, phone)
	})

	result := m.workflow.Notify(ctx, phone, message)
	wg.Wait()

	details := &eventlog.ResultDetails{
		Result: result,
		Phone:  phone,
		Error:  m.workflow.Status().LastError,
	}

	if m.archiver != nil {
		key, err := m.archiver.Upload(ctx, archive.Record{Event: *ev, Phone: phone, Result: result})
		if err != nil {
			slog.Error("failed to archive trigger", "event_id", ev.ID, "error", err)
		} else {
			details.ArchiveKey = key
		}
	}

	m.logEvent(func(l *eventlog.Logger) error { return l.LogWorkflowResult(ev.ID, details) })
	m.alerts.HandleResult(ctx, ev.ID, result)

	slog.Info("trigger handled", "event_id", ev.ID, "result", result)
}

// AddContact registers a contact with the messaging provider.
func (m *Monitor) AddContact(ctx context.Context, phone, name string) error {
	if err := m.workflow.AddContact(ctx, phone, name); err != nil {
		return err
	}
	m.logEvent(func(l *eventlog.Logger) error { return l.LogContactAdded(phone, name) })
	return nil
}

// observe caches the latest tick stats for readers that poll.
//
//nolint:gocritic // hugeParam: called from the detector observer hook
func (m *Monitor) observe(stats types.TickStats) {
	m.mu.Lock()
	m.lastStats = stats
	m.mu.Unlock()
}

// Stats returns the most recent tick statistics.
func (m *Monitor) Stats() types.TickStats {
	m.mu.RLock()
	d, stats := m.detector, m.lastStats
	m.mu.RUnlock()
	if d != nil {
		stats.State = d.State()
	}
	return stats
}

// State returns the detector state.
func (m *Monitor) State() types.DetectorState {
	m.mu.RLock()
	d := m.detector
	m.mu.RUnlock()
	if d == nil {
		return types.StateIdle
	}
	return d.State()
}

// Status returns the current monitor status.
func (m *Monitor) Status() types.MonitorStatus {
	state := m.State()

	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := ""
	if state == types.StateListening {
		uptime = util.FormatDuration(time.Since(m.startTime))
	}

	status := types.MonitorStatus{
		State:     state,
		Uptime:    uptime,
		LastError: m.lastError,
		Workflow:  m.workflow.Status(),
		Provider:  m.config.Snapshot().Provider,
	}
	if m.session != nil {
		s := *m.session
		status.Session = &s
	}
	if m.lastEvent != nil {
		ev := *m.lastEvent
		status.LastEvent = &ev
	}
	return status
}

// EventLogPath returns the event log location, or "" when disabled.
func (m *Monitor) EventLogPath() string {
	if m.events == nil {
		return ""
	}
	return m.events.Path()
}

// UpdateGraphConfig drops the cached Graph client after a settings change.
func (m *Monitor) UpdateGraphConfig() {
	if inv, ok := m.alerts.(interface{ InvalidateGraphClient() }); ok {
		inv.InvalidateGraphClient()
	}
}

// TriggerTestEmail sends a test email to verify configuration.
func (m *Monitor) TriggerTestEmail(ctx context.Context) error {
	cfg := m.config.Snapshot()
	return notify.SendTestEmail(ctx, cfg.GraphConfig())
}

// TriggerTestWebhook sends a test webhook to verify configuration.
func (m *Monitor) TriggerTestWebhook(ctx context.Context) error {
	return notify.SendTestWebhook(ctx, m.config.Snapshot().WebhookURL)
}

// TriggerTestLog writes a test entry to verify log file configuration.
func (m *Monitor) TriggerTestLog(_ context.Context) error {
	return notify.WriteTestLog(m.config.Snapshot().LogPath)
}

// TriggerTestZabbix sends a test value to the Zabbix trapper item.
func (m *Monitor) TriggerTestZabbix(ctx context.Context) error {
	cfg := m.config.Snapshot()
	return notify.SendTestZabbix(ctx, cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey)
}

// TriggerTestArchive checks write access to the archive bucket.
func (m *Monitor) TriggerTestArchive(ctx context.Context) error {
	if m.archiver == nil {
		return ErrArchiveDisabled
	}
	return m.archiver.TestConnection(ctx)
}

func (m *Monitor) logEvent(fn func(*eventlog.Logger) error) {
	if m.events == nil {
		return
	}
	if err := fn(m.events); err != nil {
		slog.Warn("failed to write event log", "error", err)
	}
}
