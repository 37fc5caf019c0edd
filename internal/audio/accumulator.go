package audio

import "time"

// DefaultResetEnergyOnBreak controls whether accumulated energy is cleared
// when an above-threshold run is broken. It is false so energy carries over
// between runs within a session and only a trigger or a new session clears it.
const DefaultResetEnergyOnBreak = false

// AccumulatorConfig holds the thresholds for sustained-activity detection.
type AccumulatorConfig struct {
	Tick               time.Duration // sampling interval; scales samples into energy
	Threshold          float64       // amplitude a sample must exceed to count
	SustainTicks       int           // contiguous above-threshold ticks needed to trigger
	ResetEnergyOnBreak bool          // clear energy when a run breaks
}

// Outcome is the result of observing one sample.
type Outcome int

const (
	// OutcomeContinue means keep sampling.
	OutcomeContinue Outcome = iota
	// OutcomeTrigger means the run reached SustainTicks.
	OutcomeTrigger
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == OutcomeTrigger {
		return "trigger"
	}
	return "continue"
}

// Accumulator integrates amplitude over time while it exceeds a threshold
// and counts the current contiguous above-threshold run.
//
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	energy    float64
	runLength int
}

// Observe feeds one sample and reports whether a trigger is due. The caller
// is expected to Reset after OutcomeTrigger.
func (a *Accumulator) Observe(sample float64, cfg AccumulatorConfig) Outcome {
	if sample > cfg.Threshold {
		a.energy = Round4(a.energy + Scale(sample, cfg.Tick.Seconds()))
		a.runLength++
	} else {
		a.runLength = 0
		if cfg.ResetEnergyOnBreak {
			a.energy = 0
		}
	}

	if a.runLength >= cfg.SustainTicks {
		return OutcomeTrigger
	}
	return OutcomeContinue
}

// Energy returns the accumulated energy.
func (a *Accumulator) Energy() float64 { return a.energy }

// RunLength returns the current contiguous above-threshold tick count.
func (a *Accumulator) RunLength() int { return a.runLength }

// Reset clears energy and run length.
func (a *Accumulator) Reset() {
	a.energy = 0
	a.runLength = 0
}
