// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Drives the ANC300 coarse positioner from the command line, e.g.:
//
//	go run ./cmd/atto -axis 3 -steps -200 -voltage 25 -freq 1000
package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/squid_scanner/internal/app"
	"github.com/relabs-tech/squid_scanner/internal/config"
)

func main() {
	axis := flag.Int("axis", 0, "controller axis (1-3)")
	steps := flag.Int("steps", 0, "steps to perform; positive up, negative down")
	voltage := flag.Float64("voltage", 0, "stepping voltage to set, V (0 keeps current)")
	freq := flag.Float64("freq", 0, "stepping frequency to set, Hz (0 keeps current)")
	readCap := flag.Bool("cap", false, "measure the axis capacitance before stepping")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal("microscope_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunAtto(app.AttoOptions{
		Axis:      *axis,
		Steps:     *steps,
		Voltage:   *voltage,
		Frequency: *freq,
		ReadCap:   *readCap,
	}); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
