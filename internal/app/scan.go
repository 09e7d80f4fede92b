// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/daq"
	"github.com/relabs-tech/squid_scanner/internal/instruments"
	"github.com/relabs-tech/squid_scanner/internal/scanner"
	"github.com/relabs-tech/squid_scanner/internal/telemetry"
)

// RunScan acquires a full raster scan of the sample plane and publishes
// each completed line over MQTT. On any exit the scanner is returned to
// its pre-scan position with a retract-first move and the susceptometry
// excitation is dialed down.
func RunScan(ctx context.Context) error {
	cfg := config.Get()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}

	sc, err := buildScanner(cfg, dev)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDScan)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	publish := publisher(client)

	// The SQUID susceptometry excitation is left at the minimum amplitude
	// between scans so the sample is not driven while idle.
	zeroExcitation := func() {}
	if cfg.SuscLockinPort != "" {
		lockin, err := instruments.OpenSR830("SUSC", cfg.SuscLockinPort, uint(cfg.LockinBaudRate))
		if err != nil {
			return err
		}
		defer lockin.Close()
		zeroExcitation = func() {
			if err := lockin.SetAmplitude(0.004); err != nil {
				log.Printf("scan: failed to zero excitation: %v", err)
			}
		}
	}

	return scanPlane(ctx, cfg, dev, sc, publish, zeroExcitation)
}

// scanPlane runs the scan loop against an already-assembled device and
// position controller.
func scanPlane(ctx context.Context, cfg *config.Config, dev daq.Device,
	sc *scanner.Scanner, publish func(topic string, v any), zeroExcitation func()) error {

	if !cfg.PlaneIsCurrent {
		return fmt.Errorf("scan: sample plane is stale; refit the plane before scanning")
	}

	params, err := scanParams(cfg)
	if err != nil {
		return err
	}
	grid, err := scanner.MakeGrid(params, cfg.DAQRate)
	if err != nil {
		return err
	}
	if err := scanner.ValidateGrid(grid, sc.Limits(), sc.Mode()); err != nil {
		return err
	}

	oldPos, err := sc.GetPosition()
	if err != nil {
		return err
	}

	seq := scanner.NewSequencer(dev, sc, grid, aoMap(cfg), cfg.DAQRate)
	defer func() {
		if err := seq.CloseOutput(); err != nil {
			log.Printf("scan: cleanup: close output task: %v", err)
		}
		if err := sc.GoTo(oldPos, scanner.MoveOptions{RetractFirst: true}); err != nil {
			log.Printf("scan: cleanup: return to %s: %v", oldPos, err)
		}
		zeroExcitation()
	}()

	if err := sc.GoTo(grid.LineStart(0), scanner.MoveOptions{RetractFirst: true}); err != nil {
		return err
	}

	lines := grid.Lines()
	log.Printf("scan: starting %d-line scan, %d samples per line", lines, len(grid.X[0]))

	counter := &scanner.Counter{}
	for counter.Count() < lines {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan: interrupted at line %d: %w", counter.Count(), err)
		}
		line := counter.Count()
		reverse := cfg.ScanSerpentine && line%2 == 1

		data, err := acquireLine(cfg, dev, seq, counter, reverse)
		if err != nil {
			return fmt.Errorf("scan: line %d: %w", line, err)
		}

		publish(cfg.TopicScanLine, telemetry.LineRecord{
			Line:    line,
			Lines:   lines,
			Reverse: reverse,
			Data:    data,
			Time:    time.Now().UTC().Format(time.RFC3339),
		})

		if err := seq.GoToStartOfNextLine(counter); err != nil {
			return fmt.Errorf("scan: after line %d: %w", line, err)
		}
		counter.Advance()

		if pos, err := sc.GetPosition(); err == nil {
			publish(cfg.TopicPosition, telemetry.Position{
				X: pos[scanner.AxisX], Y: pos[scanner.AxisY], Z: pos[scanner.AxisZ],
				Time: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}

	log.Printf("scan: finished %d lines", lines)
	return nil
}

// acquireLine plays one raster line out and records the input channels
// over it. Ordering matters: the line's output samples are queued first,
// then the slaved input task is armed, and only then does the output
// clock start. Teardown stops the input before the output task is
// released.
func acquireLine(cfg *config.Config, dev daq.Device, seq *scanner.Sequencer,
	c *scanner.Counter, reverse bool) (map[string][]float64, error) {

	if err := seq.ScanLine(c, reverse); err != nil {
		return nil, err
	}

	channels := []int{cfg.DAQAIX, cfg.DAQAIY, cfg.DAQAIZ, cfg.DAQAICap}
	ai, err := dev.OpenInputTask("scan_line_ai_task", channels, cfg.DAQRate, seq.LineSamples(), true)
	if err != nil {
		seq.CloseOutput()
		return nil, err
	}

	read := func() ([][]float64, error) {
		if err := ai.Start(); err != nil {
			return nil, err
		}
		if err := seq.StartOutput(); err != nil {
			return nil, err
		}
		samples, err := ai.Read()
		if err != nil {
			return nil, err
		}
		if err := seq.WaitOutput(); err != nil {
			return nil, err
		}
		if err := ai.WaitUntilDone(); err != nil {
			return nil, err
		}
		return samples, nil
	}

	samples, err := read()
	if stopErr := ai.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if closeErr := ai.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if outErr := seq.CloseOutput(); outErr != nil && err == nil {
		err = outErr
	}
	if err != nil {
		return nil, err
	}

	return map[string][]float64{
		"x":   samples[0],
		"y":   samples[1],
		"z":   samples[2],
		"cap": samples[3],
	}, nil
}
