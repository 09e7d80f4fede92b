// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scanner controls the three-axis piezo scanner through the DAQ
// analog outputs: safe position moves, ramp generation, and raster-scan
// line sequencing.
package scanner

import (
	"fmt"
	"strings"
)

// Axis identifies one scanner axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ

	NumAxes = 3
)

var axisNames = [NumAxes]string{"x", "y", "z"}

func (a Axis) String() string {
	if a < 0 || a >= NumAxes {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return axisNames[a]
}

// ParseAxis maps "x", "y" or "z" to an Axis.
func ParseAxis(s string) (Axis, error) {
	for i, name := range axisNames {
		if strings.ToLower(s) == name {
			return Axis(i), nil
		}
	}
	return 0, fmt.Errorf("axis must be one of %v, got %q", axisNames, s)
}

// TempMode selects the scanner voltage limits: the piezo benders tolerate
// much larger voltages cold (LT) than at room temperature (RT).
type TempMode int

const (
	ModeLT TempMode = iota
	ModeRT

	NumModes = 2
)

var modeNames = [NumModes]string{"LT", "RT"}

func (m TempMode) String() string {
	if m < 0 || m >= NumModes {
		return fmt.Sprintf("TempMode(%d)", int(m))
	}
	return modeNames[m]
}

func ParseTempMode(s string) (TempMode, error) {
	switch strings.ToUpper(s) {
	case "LT":
		return ModeLT, nil
	case "RT":
		return ModeRT, nil
	}
	return 0, fmt.Errorf(`temperature mode must be "LT" or "RT", got %q`, s)
}

// Position is a scanner position in volts, one value per axis.
type Position [NumAxes]float64

func (p Position) String() string {
	return fmt.Sprintf("[%.3f %.3f %.3f] V", p[AxisX], p[AxisY], p[AxisZ])
}

// Range is an ordered voltage interval.
type Range struct {
	Min float64
	Max float64
}

// OutOfRangeError reports a requested value outside the safe voltage
// limits of an axis. The move is rejected before any hardware write.
type OutOfRangeError struct {
	Axis  Axis
	Value float64
	Lim   Range
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("requested position %.3f V is out of range for %s axis; voltage limits are [%g %g] V",
		e.Value, e.Axis, e.Lim.Min, e.Lim.Max)
}

// Limits holds per-axis voltage bounds for each temperature mode.
// Immutable after construction.
type Limits struct {
	ranges [NumModes][NumAxes]Range
}

// NewLimits validates that every interval is ordered and returns the
// lookup table. ranges is indexed [mode][axis].
func NewLimits(ranges [NumModes][NumAxes]Range) (Limits, error) {
	for m := 0; m < NumModes; m++ {
		for a := 0; a < NumAxes; a++ {
			r := ranges[m][a]
			if r.Min > r.Max {
				return Limits{}, fmt.Errorf("voltage limits for %s axis (%s): min %g V > max %g V",
					Axis(a), TempMode(m), r.Min, r.Max)
			}
		}
	}
	return Limits{ranges: ranges}, nil
}

// Range returns the voltage bounds for an axis in a temperature mode.
func (l Limits) Range(a Axis, m TempMode) (Range, error) {
	if a < 0 || a >= NumAxes || m < 0 || m >= NumModes {
		return Range{}, fmt.Errorf("no voltage limits configured for axis %d, mode %d", int(a), int(m))
	}
	return l.ranges[m][a], nil
}

// Validate checks a single axis value against the limits for a mode.
// Bounds are inclusive.
func (l Limits) Validate(a Axis, m TempMode, v float64) error {
	r, err := l.Range(a, m)
	if err != nil {
		return err
	}
	if v < r.Min || v > r.Max {
		return &OutOfRangeError{Axis: a, Value: v, Lim: r}
	}
	return nil
}

// ValidatePosition checks every axis of a position, failing on the first
// out-of-range axis.
func (l Limits) ValidatePosition(m TempMode, p Position) error {
	for a := 0; a < NumAxes; a++ {
		if err := l.Validate(Axis(a), m, p[a]); err != nil {
			return err
		}
	}
	return nil
}
