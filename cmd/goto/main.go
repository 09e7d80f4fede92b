// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Moves the scanner to an absolute [x y z] voltage from the command
// line, e.g.:
//
//	go run ./cmd/goto -x 1.5 -y -0.25 -z 2.0 -retract
package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/squid_scanner/internal/app"
	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/scanner"
)

func main() {
	x := flag.Float64("x", 0, "target x voltage")
	y := flag.Float64("y", 0, "target y voltage")
	z := flag.Float64("z", 0, "target z voltage")
	retract := flag.Bool("retract", false, "retract z before moving laterally")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal("microscope_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunGoTo(scanner.Position{*x, *y, *z}, *retract); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
