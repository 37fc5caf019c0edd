package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// Sentinel errors for audio capture.
var (
	ErrNoAudioDevice  = errors.New("no audio input device found")
	ErrNotCapturing   = errors.New("audio capture not running")
	ErrNoSamples      = errors.New("no samples since last reading")
	ErrCaptureStopped = errors.New("audio capture process exited")
)

// acquireTimeout bounds how long Acquire waits for the first PCM bytes.
const acquireTimeout = 2000 * time.Millisecond

// readBufferSize is roughly 100ms of 48kHz stereo S16LE audio.
const readBufferSize = 19200

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the capture executable ("arecord" or "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates the platform captures through FFmpeg.
	UsesFFmpeg bool

	// BuildArgs returns the capture arguments for a device.
	BuildArgs func(device string) []string

	// DeviceList describes device enumeration.
	DeviceList DeviceListConfig
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// An empty device falls back to the platform default, then to the first
// enumerated device.
func BuildCaptureCommand(device, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}
	if device == "" {
		devices := Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}
	return command, cfg.BuildArgs(device), nil
}

// CaptureSource reads PCM from a capture subprocess and reports one RMS
// amplitude per Sample call, computed over the audio received since the
// previous call. It is safe for concurrent use.
type CaptureSource struct {
	device     string
	ffmpegPath string

	mu      sync.Mutex
	level   LevelData
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan struct{}
	stderr  *bytes.Buffer
	exitErr error
}

// NewCaptureSource returns a source for the given device. An empty device
// uses the platform default.
func NewCaptureSource(device, ffmpegPath string) *CaptureSource {
	return &CaptureSource{device: device, ffmpegPath: ffmpegPath}
}

// Acquire starts the capture process and waits until audio arrives. It fails
// if the command cannot be built or started, or if the process exits before
// producing audio (missing device, permission denied).
func (s *CaptureSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return nil
	}

	name, args, err := BuildCaptureCommand(s.device, s.ffmpegPath)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, name, args...)
	cmd.Cancel = func() error { return util.GracefulSignal(cmd.Process) }
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.mu.Unlock()
		return util.WrapError("open capture pipe", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		s.mu.Unlock()
		return util.WrapError("start "+name, err)
	}

	slog.Info("audio capture started", "command", name, "device", s.device)

	s.cmd = cmd
	s.cancel = cancel
	s.stderr = stderr
	s.exitErr = nil
	s.level.Reset()
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	firstData := make(chan struct{})
	go s.readLoop(cmd, stdout, firstData, done)

	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	select {
	case <-firstData:
		return nil
	case <-done:
		err := s.exitError()
		_ = s.Release()
		return err
	case <-timer.C:
		_ = s.Release()
		return fmt.Errorf("no audio from %s within %s", name, acquireTimeout)
	case <-ctx.Done():
		_ = s.Release()
		return context.Cause(ctx)
	}
}

// readLoop accumulates PCM until the process exits.
func (s *CaptureSource) readLoop(cmd *exec.Cmd, stdout io.Reader, firstData, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufferSize)
	signalled := false
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.mu.Lock()
			ProcessSamples(buf, n, &s.level)
			s.mu.Unlock()
			if !signalled {
				close(firstData)
				signalled = true
			}
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if waitErr == nil {
		waitErr = io.EOF
	}
	if line := util.LastLine(s.stderr.String()); line != "" {
		waitErr = fmt.Errorf("%w: %s", waitErr, line)
	}
	s.exitErr = fmt.Errorf("%w: %w", ErrCaptureStopped, waitErr)
}

func (s *CaptureSource) exitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitErr == nil {
		return ErrCaptureStopped
	}
	return s.exitErr
}

// Sample returns the RMS amplitude of the audio received since the last
// call, in [0, 1].
func (s *CaptureSource) Sample() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return 0, ErrNotCapturing
	}
	if s.exitErr != nil {
		return 0, s.exitErr
	}
	if s.level.SampleCount == 0 {
		return 0, ErrNoSamples
	}

	levels := CalculateLevels(&s.level)
	s.level.Reset()
	return levels.RMS, nil
}

// Release stops the capture process and waits for it to exit. It is safe
// to call more than once.
func (s *CaptureSource) Release() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cmd = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		slog.Info("audio capture stopped")
		return nil
	case <-time.After(2 * types.ShutdownTimeout):
		return fmt.Errorf("audio capture did not stop within %s", 2*types.ShutdownTimeout)
	}
}
