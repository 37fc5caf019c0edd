package audio

import (
	"encoding/binary"
	"regexp"
	"testing"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func TestProcessSamplesAndLevels(t *testing.T) {
	var d LevelData
	buf := pcm(16384, -16384, 16384, -16384)
	ProcessSamples(buf, len(buf), &d)

	require.Equal(t, 4, d.SampleCount)
	levels := CalculateLevels(&d)
	assert.InDelta(t, 0.5, levels.RMS, 1e-9)
	assert.InDelta(t, 0.5, levels.Peak, 1e-9)
	assert.Zero(t, levels.Clip)

	d.Reset()
	assert.Equal(t, Levels{}, CalculateLevels(&d))
}

func TestProcessSamplesCountsClips(t *testing.T) {
	var d LevelData
	buf := pcm(32767, -32768, 0)
	ProcessSamples(buf, len(buf), &d)
	assert.Equal(t, 2, d.ClipCount)
	assert.LessOrEqual(t, CalculateLevels(&d).Peak, 1.0)
}

func TestProcessSamplesIgnoresTrailingByte(t *testing.T) {
	var d LevelData
	buf := append(pcm(100), 0x7f)
	ProcessSamples(buf, len(buf), &d)
	assert.Equal(t, 1, d.SampleCount)
}

func TestToDB(t *testing.T) {
	assert.Equal(t, MinDB, ToDB(0))
	assert.Equal(t, MinDB, ToDB(1e-9))
	assert.InDelta(t, 0, ToDB(1), 1e-9)
	assert.InDelta(t, -6.0206, ToDB(0.5), 1e-3)
}

func TestParseDeviceOutput(t *testing.T) {
	cfg := DeviceListConfig{
		AudioStartMarker: "audio devices:",
		AudioStopMarker:  "video devices:",
		DevicePattern:    regexp.MustCompile(`\[(\d+)\]\s*(.+)`),
		ParseDevice: func(m []string) *types.AudioDevice {
			return &types.AudioDevice{ID: ":" + m[1], Name: m[2]}
		},
	}
	output := "header\naudio devices:\n[0] Built-in Microphone\n[1] USB Interface\nvideo devices:\n[0] Camera\n"

	devices := parseDeviceOutput(output, cfg)
	assert.Equal(t, []types.AudioDevice{
		{ID: ":0", Name: "Built-in Microphone"},
		{ID: ":1", Name: "USB Interface"},
	}, devices)
}

func TestParseDeviceListFallback(t *testing.T) {
	fallback := []types.AudioDevice{{ID: "default", Name: "System default"}}
	assert.Equal(t, fallback, parseDeviceList(DeviceListConfig{FallbackDevices: fallback}))
}

func TestCaptureSourceSampleBeforeAcquire(t *testing.T) {
	s := NewCaptureSource("", "")
	_, err := s.Sample()
	require.ErrorIs(t, err, ErrNotCapturing)
	assert.NoError(t, s.Release())
}
