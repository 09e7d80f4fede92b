// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/squid_scanner/internal/app"
	"github.com/relabs-tech/squid_scanner/internal/config"
)

func main() {
	log.Println("starting squid-scanner scan driver")

	// Load configuration
	if err := config.InitGlobal("microscope_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Ctrl-C interrupts the scan cleanly: the probe is retracted and
	// returned before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunScan(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
