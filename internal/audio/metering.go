// Package audio captures PCM input and turns it into per-tick amplitude
// readings, and holds the loudness statistics the detector runs on.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the floor used when expressing amplitude in dBFS.
	MinDB = -60.0
	// MaxSampleValue is the full-scale magnitude of 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below full scale to catch near-clips.
	ClipThreshold int16 = 32760
)

// LevelData accumulates raw S16LE samples between amplitude readings.
// Stereo frames are folded into one channel.
type LevelData struct {
	SumSquares  float64
	Peak        float64
	ClipCount   int
	SampleCount int
}

// ProcessSamples accumulates the interleaved S16LE samples in buf[:n].
func ProcessSamples(buf []byte, n int, data *LevelData) {
	for i := 0; i+1 < n; i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i:]))
		v := float64(sample)
		data.SumSquares += v * v
		if abs := math.Abs(v); abs > data.Peak {
			data.Peak = abs
		}
		if sample >= ClipThreshold || sample <= -ClipThreshold {
			data.ClipCount++
		}
		data.SampleCount++
	}
}

// Levels is one amplitude reading. RMS and Peak are linear in [0, 1].
type Levels struct {
	RMS  float64
	Peak float64
	Clip int
}

// CalculateLevels computes the reading for the accumulated samples.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{}
	}
	rms := math.Sqrt(data.SumSquares/float64(data.SampleCount)) / MaxSampleValue
	return Levels{
		RMS:  min(rms, 1),
		Peak: min(data.Peak/MaxSampleValue, 1),
		Clip: data.ClipCount,
	}
}

// ToDB converts a linear amplitude to dBFS, floored at MinDB.
func ToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDB
	}
	return max(20*math.Log10(amplitude), MinDB)
}

// Reset clears the accumulator for the next reading.
func (d *LevelData) Reset() {
	*d = LevelData{}
}
