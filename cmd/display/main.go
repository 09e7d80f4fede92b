// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/squid_scanner/internal/app"
	"github.com/relabs-tech/squid_scanner/internal/config"
)

func main() {
	log.Println("starting squid-scanner bench display")

	// Load configuration
	if err := config.InitGlobal("microscope_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
