package scanner

import (
	"log"
	"math"
)

// Ramp is a time-sampled voltage trajectory, one row per axis. Rows are
// column-synchronized: every axis moves in lockstep on the same sample
// clock, interpolated independently from its start to its end value.
type Ramp [NumAxes][]float64

// NumSamples returns the per-channel sample count of the ramp.
func (r Ramp) NumSamples() int {
	return len(r[0])
}

// Rows returns the ramp as a channel-major slice for a DAQ write.
func (r Ramp) Rows() [][]float64 {
	return [][]float64{r[AxisX], r[AxisY], r[AxisZ]}
}

// End returns the final sample of each axis.
func (r Ramp) End() Position {
	var p Position
	for a := 0; a < NumAxes; a++ {
		p[a] = r[a][len(r[a])-1]
	}
	return p
}

// MakeRamp generates a voltage ramp from start to end at the given speed,
// sampled at rate. The duration is set by the largest single-axis travel
// (axes share a clock, so the slowest axis governs), and the sample count
// is floor(duration*rate)+2 so that even a zero-length move yields a
// start and an end sample. If speed exceeds maxSpeed it is clamped and a
// warning logged.
func MakeRamp(start, end Position, speed, maxSpeed, rate float64) Ramp {
	if speed > maxSpeed {
		log.Printf("scanner: requested speed %g V/s above maximum, clamping to %g V/s", speed, maxSpeed)
		speed = maxSpeed
	}
	var travel float64
	for a := 0; a < NumAxes; a++ {
		travel = math.Max(travel, math.Abs(end[a]-start[a]))
	}
	n := int(travel/speed*rate) + 2

	var ramp Ramp
	for a := 0; a < NumAxes; a++ {
		ramp[a] = linspace(start[a], end[a], n)
	}
	return ramp
}

// linspace returns n evenly spaced samples from lo to hi inclusive.
func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi // exact endpoint, no accumulated rounding
	return out
}
