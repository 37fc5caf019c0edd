// Package detector runs the sampling loop that turns per-tick amplitude
// readings into at most one trigger event per listening session.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-loudwatch/internal/audio"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// Sentinel errors for detector lifecycle.
var (
	ErrAlreadyRunning    = errors.New("detector already running")
	ErrInvalidSettings   = errors.New("invalid detector settings")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Source supplies one amplitude reading per tick.
type Source interface {
	// Acquire opens the underlying device.
	Acquire(ctx context.Context) error
	// Sample returns the current non-negative amplitude.
	Sample() (float64, error)
	// Release closes the device. It must be safe to call more than once.
	Release() error
}

// Ticker delivers tick times. *time.Ticker satisfies it through NewTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker with the given period.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTicker returns a wall-clock Ticker. Ticks the loop cannot keep up with
// are dropped, not queued.
func NewTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Settings configures one listening session.
type Settings struct {
	Threshold          float64
	Tick               time.Duration
	SustainTicks       int
	ResetEnergyOnBreak bool
}

// DefaultSettings returns the default tick and sustain window for threshold.
func DefaultSettings(threshold float64) Settings {
	return Settings{
		Threshold:          threshold,
		Tick:               types.DefaultTickDuration,
		SustainTicks:       types.DefaultSustainTicks,
		ResetEnergyOnBreak: audio.DefaultResetEnergyOnBreak,
	}
}

// Validate checks the settings for obvious misconfiguration.
func (s Settings) Validate() error {
	switch {
	case s.Threshold < 0 || math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0):
		return fmt.Errorf("%w: threshold must be a non-negative number", ErrInvalidSettings)
	case s.Tick <= 0:
		return fmt.Errorf("%w: tick must be positive", ErrInvalidSettings)
	case s.SustainTicks < 1:
		return fmt.Errorf("%w: sustain ticks must be at least 1", ErrInvalidSettings)
	}
	return nil
}

func (s Settings) accumulator() audio.AccumulatorConfig {
	return audio.AccumulatorConfig{
		Tick:               s.Tick,
		Threshold:          s.Threshold,
		SustainTicks:       s.SustainTicks,
		ResetEnergyOnBreak: s.ResetEnergyOnBreak,
	}
}

// Option configures a Detector.
type Option func(*Detector)

// WithTicker replaces the wall-clock ticker.
func WithTicker(fn TickerFunc) Option {
	return func(d *Detector) { d.newTicker = fn }
}

// WithObserver registers fn to receive a stats snapshot after every tick.
// fn runs on the sampling goroutine and must not block.
func WithObserver(fn func(types.TickStats)) Option {
	return func(d *Detector) { d.observer = fn }
}

// Detector is the activity state machine: idle, listening, triggered.
// All statistics are owned by the sampling goroutine; the mutex guards only
// the state and the published snapshot.
type Detector struct {
	source    Source
	newTicker TickerFunc
	observer  func(types.TickStats)

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   types.DetectorState
	stats   types.TickStats
	cancel  context.CancelFunc
	done    chan struct{}
	exitErr error
}

// New creates an idle Detector reading from source.
func New(source Source, opts ...Option) *Detector {
	d := &Detector{
		source:    source,
		newTicker: NewTicker,
		state:     types.StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.stats.State = types.StateIdle
	return d
}

// Start acquires the source and begins sampling. The returned channel
// receives at most one event and is closed when the session ends, either
// on trigger or on Stop. The session outlives ctx; only Stop ends it early.
//
//nolint:gocritic // hugeParam: Settings is copied once per session
func (d *Detector) Start(ctx context.Context, s Settings) (<-chan types.TriggerEvent, error) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if state := d.State(); state != types.StateIdle {
		return nil, fmt.Errorf("%w: state is %s", ErrAlreadyRunning, state)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	if err := d.source.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events := make(chan types.TriggerEvent, 1)
	done := make(chan struct{})
	ticker := d.newTicker(s.Tick)

	d.mu.Lock()
	d.state = types.StateListening
	d.stats = types.TickStats{State: types.StateListening}
	d.cancel = cancel
	d.done = done
	d.exitErr = nil
	d.mu.Unlock()

	slog.Info("detector started",
		"threshold", s.Threshold,
		"tick", s.Tick,
		"sustain_ticks", s.SustainTicks)

	go d.run(runCtx, s, ticker, events, done)
	return events, nil
}

// Stop ends the session from any state and returns to idle. It waits for
// the sampling goroutine to exit and is safe to call repeatedly.
func (d *Detector) Stop() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.done = nil
	wasListening := d.state == types.StateListening
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	d.mu.Lock()
	err := d.exitErr
	d.state = types.StateIdle
	d.stats.State = types.StateIdle
	d.mu.Unlock()

	if wasListening {
		slog.Info("detector stopped")
	}
	return err
}

// State returns the current detector state.
func (d *Detector) State() types.DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns the snapshot published after the most recent tick.
func (d *Detector) Stats() types.TickStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

//nolint:gocritic // hugeParam: Settings is copied once per session
func (d *Detector) run(ctx context.Context, s Settings, ticker Ticker, events chan<- types.TriggerEvent, done chan struct{}) {
	defer close(done)
	defer close(events)

	var (
		topk  audio.TopK
		acc   audio.Accumulator
		ticks int
		cfg   = s.accumulator()
	)

	finish := func() {
		ticker.Stop()
		if err := d.source.Release(); err != nil {
			slog.Warn("failed to release audio source", "error", err)
			d.mu.Lock()
			d.exitErr = err
			d.mu.Unlock()
		}
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return
		case now := <-ticker.C():
			sample := d.readSample()
			scaled := audio.Scale(sample, s.Tick.Seconds())
			topk.Update(scaled)

			if topk.Matches(acc.Energy()) {
				slog.Debug("accumulated energy matches a tracked maximum",
					"energy", acc.Energy(), "maxima", topk.Values())
			}

			outcome := acc.Observe(sample, cfg)
			ticks++

			stats := types.TickStats{
				State:     types.StateListening,
				Sample:    sample,
				Energy:    acc.Energy(),
				RunLength: acc.RunLength(),
				Max1:      topk.Max1(),
				Max2:      topk.Max2(),
				Max3:      topk.Max3(),
				Ticks:     ticks,
			}

			if outcome != audio.OutcomeTrigger {
				d.publish(stats)
				continue
			}

			finish()

			stats.State = types.StateTriggered
			event := types.TriggerEvent{
				ID:        uuid.NewString(),
				At:        now,
				Threshold: s.Threshold,
				Energy:    stats.Energy,
				RunLength: stats.RunLength,
				Max1:      stats.Max1,
				Max2:      stats.Max2,
				Max3:      stats.Max3,
				Ticks:     ticks,
			}

			d.mu.Lock()
			d.state = types.StateTriggered
			d.mu.Unlock()
			d.publish(stats)

			slog.Info("sustained activity detected",
				"event_id", event.ID,
				"energy", event.Energy,
				"run_length", event.RunLength,
				"ticks", ticks)

			events <- event
			return
		}
	}
}

// readSample returns the source amplitude, or 0 for a failed or invalid
// reading so that an anomaly can only break a run.
func (d *Detector) readSample() float64 {
	v, err := d.source.Sample()
	if err != nil {
		slog.Debug("sample read failed, using zero", "error", err)
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		slog.Debug("invalid sample, using zero", "value", v)
		return 0
	}
	return v
}

func (d *Detector) publish(stats types.TickStats) {
	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()
	if d.observer != nil {
		d.observer(stats)
	}
}
