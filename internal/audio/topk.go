package audio

import "math"

// roundFactor gives four decimal digits of precision.
const roundFactor = 10000

// Round4 rounds v to four decimal places. Scaled samples and accumulated
// energy are always stored rounded so equality checks are stable.
func Round4(v float64) float64 {
	return math.Round(v*roundFactor) / roundFactor
}

// Scale converts an instantaneous amplitude into the energy it contributes
// over one tick of tickSeconds, rounded with Round4.
func Scale(sample, tickSeconds float64) float64 {
	return Round4(sample * tickSeconds)
}

// TopK tracks the three largest scaled samples seen since creation or the
// last Reset. Values are kept in descending order. Ties never displace an
// existing entry because all comparisons are strict.
//
// TopK is not safe for concurrent use; the detector owns it from a single
// goroutine.
type TopK struct {
	max1, max2, max3 float64
}

// Update inserts value if it ranks among the current top three.
func (t *TopK) Update(value float64) {
	switch {
	case value > t.max1:
		t.max3 = t.max2
		t.max2 = t.max1
		t.max1 = value
	case value < t.max1 && value > t.max2:
		t.max3 = t.max2
		t.max2 = value
	case value < t.max2 && value > t.max3:
		t.max3 = value
	}
}

// Matches reports whether sum, rounded, equals one of the tracked maxima
// while sum and all three maxima are strictly positive.
func (t *TopK) Matches(sum float64) bool {
	if sum <= 0 || t.max1 <= 0 || t.max2 <= 0 || t.max3 <= 0 {
		return false
	}
	sum = Round4(sum)
	return sum == t.max1 || sum == t.max2 || sum == t.max3
}

// Max1 returns the largest tracked value.
func (t *TopK) Max1() float64 { return t.max1 }

// Max2 returns the second largest tracked value.
func (t *TopK) Max2() float64 { return t.max2 }

// Max3 returns the third largest tracked value.
func (t *TopK) Max3() float64 { return t.max3 }

// Values returns the maxima in descending order.
func (t *TopK) Values() [3]float64 {
	return [3]float64{t.max1, t.max2, t.max3}
}

// Reset zeroes all maxima.
func (t *TopK) Reset() {
	*t = TopK{}
}
