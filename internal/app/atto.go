// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/instruments"
	"github.com/relabs-tech/squid_scanner/internal/scanner"
)

// AttoOptions describes one coarse-positioner operation. The zero value
// does nothing but query and log the controller state for the axis.
type AttoOptions struct {
	Axis      int     // controller axis, 1-3
	Steps     int     // steps to perform; positive up, negative down
	Voltage   float64 // stepping voltage to set first, 0 = keep current
	Frequency float64 // stepping frequency to set first, 0 = keep current
	ReadCap   bool    // measure the axis capacitance before stepping
}

// openAtto opens the ANC300 on the configured port with the stepping
// voltage limit of the active temperature mode applied to all axes.
func openAtto(cfg *config.Config) (*instruments.ANC300, error) {
	if cfg.AttoSerialPort == "" {
		return nil, fmt.Errorf("atto: ATTO_SERIAL_PORT is not configured")
	}
	mode, err := scanner.ParseTempMode(cfg.TempMode)
	if err != nil {
		return nil, err
	}
	lim := cfg.AttoVoltageLimitLT
	if mode == scanner.ModeRT {
		lim = cfg.AttoVoltageLimitRT
	}
	limits := map[int]float64{1: lim, 2: lim, 3: lim}
	return instruments.OpenANC300(cfg.AttoSerialPort, uint(cfg.AttoBaudRate), limits)
}

// RunAtto drives the ANC300 coarse positioner: optionally retunes the
// stepping voltage and frequency, optionally measures the axis
// capacitance, then performs the requested steps.
func RunAtto(opt AttoOptions) error {
	if opt.Axis < 1 || opt.Axis > 3 {
		return fmt.Errorf("atto: axis must be 1-3, got %d", opt.Axis)
	}
	cfg := config.Get()

	atto, err := openAtto(cfg)
	if err != nil {
		return err
	}
	defer atto.Close()

	ver, err := atto.Version()
	if err != nil {
		return err
	}
	log.Printf("atto: controller %s", ver)

	if opt.Voltage > 0 {
		if err := atto.SetVoltage(opt.Axis, opt.Voltage); err != nil {
			return err
		}
	}
	if opt.Frequency > 0 {
		if err := atto.SetFrequency(opt.Axis, opt.Frequency); err != nil {
			return err
		}
	}

	v, err := atto.Voltage(opt.Axis)
	if err != nil {
		return err
	}
	f, err := atto.Frequency(opt.Axis)
	if err != nil {
		return err
	}
	log.Printf("atto: axis %d stepping at %.1f V, %.0f Hz", opt.Axis, v, f)

	if opt.ReadCap {
		c, err := atto.Capacitance(opt.Axis)
		if err != nil {
			return err
		}
		log.Printf("atto: axis %d capacitance %.1f nF", opt.Axis, c)
	}

	if opt.Steps != 0 {
		if err := atto.Step(opt.Axis, opt.Steps); err != nil {
			// A failed step train may leave the axis energized.
			if serr := atto.StopAxis(opt.Axis); serr != nil {
				log.Printf("atto: stop after failed step train: %v", serr)
			}
			return err
		}
	}
	return nil
}
