// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scanner

import (
	"fmt"
	"log"
	"math"

	"github.com/relabs-tech/squid_scanner/internal/daq"
)

// ChannelMap maps each axis to a DAQ channel index.
type ChannelMap [NumAxes]int

// Scanner owns the scanner position. The authoritative position is
// always read back from the DAQ analog inputs wired to the bender
// monitors; lastPos is only a best-effort mirror for metadata.
type Scanner struct {
	dev     daq.Device
	limits  Limits
	mode    TempMode
	retract [NumModes]float64 // retract voltage per temperature mode
	speed   float64           // default and maximum speed, V/s
	rate    float64           // DAQ sample rate, Hz
	ao      ChannelMap
	ai      ChannelMap

	lastPos Position
	havePos bool
}

// Config collects the static scanner parameters, all taken from the
// microscope configuration file.
type Config struct {
	Limits   Limits
	Mode     TempMode
	RetractV [NumModes]float64
	Speed    float64
	Rate     float64
	AO       ChannelMap
	AI       ChannelMap
}

func New(dev daq.Device, cfg Config) (*Scanner, error) {
	if cfg.Speed <= 0 {
		return nil, fmt.Errorf("scanner: speed must be positive, got %g V/s", cfg.Speed)
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("scanner: DAQ rate must be positive, got %g Hz", cfg.Rate)
	}
	for m := 0; m < NumModes; m++ {
		if err := cfg.Limits.Validate(AxisZ, TempMode(m), cfg.RetractV[m]); err != nil {
			return nil, fmt.Errorf("scanner: retract voltage for %s: %w", TempMode(m), err)
		}
	}
	return &Scanner{
		dev:     dev,
		limits:  cfg.Limits,
		mode:    cfg.Mode,
		retract: cfg.RetractV,
		speed:   cfg.Speed,
		rate:    cfg.Rate,
		ao:      cfg.AO,
		ai:      cfg.AI,
	}, nil
}

// Mode returns the active temperature mode.
func (s *Scanner) Mode() TempMode { return s.mode }

// Limits returns the voltage limit table.
func (s *Scanner) Limits() Limits { return s.limits }

// LastPosition returns the cached position mirror and whether one exists.
// Prefer GetPosition for ground truth.
func (s *Scanner) LastPosition() (Position, bool) { return s.lastPos, s.havePos }

// GetPosition reads the current [x y z] position from the DAQ analog
// inputs, rounded to 3 decimals.
func (s *Scanner) GetPosition() (Position, error) {
	vals, err := s.dev.ReadChannels([]int{s.ai[AxisX], s.ai[AxisY], s.ai[AxisZ]})
	if err != nil {
		return Position{}, fmt.Errorf("scanner: position read: %w", err)
	}
	var p Position
	for a := 0; a < NumAxes; a++ {
		p[a] = math.Round(vals[a]*1000) / 1000
	}
	s.lastPos = p
	s.havePos = true
	return p, nil
}

// MoveOptions modifies a GoTo call. The zero value is a plain
// simultaneous three-axis move at the default speed.
type MoveOptions struct {
	// RetractFirst retracts z to the safe voltage, then moves x and y,
	// then descends z, so the probe is never displaced laterally at an
	// unsafe height.
	RetractFirst bool
	// Speed in V/s; zero or negative means the configured default.
	Speed float64
	// Quiet demotes the per-move log line (GoTo is called once per scan
	// line during a scan).
	Quiet bool
}

// GoTo moves the scanner to target. Every axis is validated against the
// active mode's limits before any hardware write; an out-of-range axis
// rejects the whole move with no partial motion.
func (s *Scanner) GoTo(target Position, opt MoveOptions) error {
	oldPos, err := s.GetPosition()
	if err != nil {
		return err
	}
	speed := opt.Speed
	if speed <= 0 {
		speed = s.speed
	}
	if err := s.limits.ValidatePosition(s.mode, target); err != nil {
		return err
	}

	if !opt.RetractFirst {
		ramp := MakeRamp(oldPos, target, speed, s.speed, s.rate)
		if err := s.writeRamp("goto_ao_task", ramp); err != nil {
			return err
		}
	} else {
		if err := s.Retract(speed); err != nil {
			return err
		}
		cur, err := s.GetPosition()
		if err != nil {
			return err
		}
		if err := s.GoTo(Position{target[AxisX], target[AxisY], cur[AxisZ]},
			MoveOptions{Speed: speed, Quiet: opt.Quiet}); err != nil {
			return err
		}
		cur, err = s.GetPosition()
		if err != nil {
			return err
		}
		if err := s.GoTo(Position{cur[AxisX], cur[AxisY], target[AxisZ]},
			MoveOptions{Speed: speed, Quiet: opt.Quiet}); err != nil {
			return err
		}
	}

	cur, err := s.GetPosition()
	if err != nil {
		return err
	}
	if !opt.Quiet {
		log.Printf("scanner: moved from %s to %s", oldPos, cur)
	}
	return nil
}

// Retract moves only the z axis to the retract voltage for the active
// temperature mode, holding x and y.
func (s *Scanner) Retract(speed float64) error {
	cur, err := s.GetPosition()
	if err != nil {
		return err
	}
	return s.GoTo(Position{cur[AxisX], cur[AxisY], s.retract[s.mode]},
		MoveOptions{Speed: speed, Quiet: true})
}

// GoToX moves the x axis only, holding y and z at their current values.
func (s *Scanner) GoToX(v float64) error { return s.goToAxis(AxisX, v) }

// GoToY moves the y axis only, holding x and z at their current values.
func (s *Scanner) GoToY(v float64) error { return s.goToAxis(AxisY, v) }

// GoToZ moves the z axis only, holding x and y at their current values.
func (s *Scanner) GoToZ(v float64) error { return s.goToAxis(AxisZ, v) }

// GoToAxis moves a single axis, holding the other two at their freshly
// queried values. Delegating to GoTo keeps single-axis moves on the same
// validation and ramp path as full moves.
func (s *Scanner) GoToAxis(a Axis, v float64) error {
	if a < 0 || a >= NumAxes {
		return fmt.Errorf("scanner: invalid axis %d", int(a))
	}
	return s.goToAxis(a, v)
}

func (s *Scanner) goToAxis(a Axis, v float64) error {
	cur, err := s.GetPosition()
	if err != nil {
		return err
	}
	target := cur
	target[a] = v
	return s.GoTo(target, MoveOptions{Quiet: true})
}

// writeRamp plays one ramp out through a clocked finite AO task, blocking
// until the hardware reports completion. The task is closed on every
// path so the channels are free for the next move.
func (s *Scanner) writeRamp(name string, ramp Ramp) error {
	task, err := s.dev.OpenOutputTask(name, []int{s.ao[AxisX], s.ao[AxisY], s.ao[AxisZ]}, s.rate, ramp.NumSamples())
	if err != nil {
		return err
	}
	defer task.Close()
	if _, err := task.Write(ramp.Rows()); err != nil {
		return err
	}
	if err := task.Start(); err != nil {
		return err
	}
	if err := task.WaitUntilDone(); err != nil {
		return err
	}
	if err := task.Stop(); err != nil {
		return err
	}
	return nil
}
