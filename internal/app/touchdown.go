// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/daq"
	"github.com/relabs-tech/squid_scanner/internal/instruments"
	"github.com/relabs-tech/squid_scanner/internal/scanner"
	"github.com/relabs-tech/squid_scanner/internal/telemetry"
	"github.com/relabs-tech/squid_scanner/internal/touchdown"
)

// RunTouchdown lowers the probe towards the sample in small height steps
// while watching the capacitance bridge signal for the slope change that
// marks contact. The verdict and every sweep point are published over
// MQTT. On any exit the scanner is returned to its starting position.
func RunTouchdown(ctx context.Context) error {
	cfg := config.Get()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}

	sc, err := buildScanner(cfg, dev)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDTouchdown)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	publish := publisher(client)

	lockin, err := instruments.OpenSR830("CAP", cfg.CapLockinPort, uint(cfg.LockinBaudRate))
	if err != nil {
		return err
	}
	defer lockin.Close()

	tc, err := lockin.TimeConstant()
	if err != nil {
		return err
	}
	sens, err := lockin.Sensitivity()
	if err != nil {
		return err
	}
	// The lock-in's analog output maps full sensitivity to 10 V, so the
	// recorded voltage is the measured signal times sensitivity/10.
	prefactor := sens / 10
	settle := time.Duration(cfg.TDWaitFactor * tc * float64(time.Second))
	log.Printf("touchdown: time constant %g s, sensitivity %g V, settle %s", tc, sens, settle)

	res, err := touchdownSweep(ctx, cfg, dev, sc, settle, prefactor, publish)
	if err != nil {
		return err
	}
	if res.Outcome == touchdown.AbortUnsafe {
		return fmt.Errorf("touchdown: aborted: %s", res.Reason)
	}
	return nil
}

// touchdownSweep runs the height sweep against an already-assembled
// device and position controller, returning the detector's terminal
// verdict.
func touchdownSweep(ctx context.Context, cfg *config.Config, dev daq.Device,
	sc *scanner.Scanner, settle time.Duration, prefactor float64,
	publish func(topic string, v any)) (touchdown.Result, error) {

	heights, err := sweepHeights(cfg.TDStart, cfg.TDEnd, cfg.TDStepV)
	if err != nil {
		return touchdown.Result{}, err
	}
	for _, h := range heights {
		if err := sc.Limits().Validate(scanner.AxisZ, sc.Mode(), h); err != nil {
			return touchdown.Result{}, fmt.Errorf("touchdown: sweep: %w", err)
		}
	}

	det, err := touchdown.NewDetector(touchdown.Config{
		InitialSignal: cfg.TDInitialSignal,
		MaxDelta:      cfg.TDMaxDelta,
		Prefactor:     prefactor,
		Saturation:    cfg.TDSaturation,
		MaxSlope:      cfg.TDMaxSlope,
		MinSlopeDelta: cfg.TDMinSlopeDelta,
		Window:        cfg.TDWindow,
		FitMin:        cfg.TDFitMin,
		FitMax:        cfg.TDFitMax,
		PlannedSteps:  len(heights),
	})
	if err != nil {
		return touchdown.Result{}, err
	}

	oldPos, err := sc.GetPosition()
	if err != nil {
		return touchdown.Result{}, err
	}
	defer func() {
		if err := sc.GoTo(oldPos, scanner.MoveOptions{RetractFirst: true}); err != nil {
			log.Printf("touchdown: cleanup: return to %s: %v", oldPos, err)
		}
	}()

	log.Printf("touchdown: sweeping z from %g V to %g V in %d steps", cfg.TDStart, cfg.TDEnd, len(heights))

	for i, h := range heights {
		if err := ctx.Err(); err != nil {
			return touchdown.Result{}, fmt.Errorf("touchdown: interrupted at step %d: %w", i, err)
		}
		if err := sc.GoToZ(h); err != nil {
			return touchdown.Result{}, fmt.Errorf("touchdown: step %d: %w", i, err)
		}
		time.Sleep(settle)

		vals, err := dev.ReadChannels([]int{cfg.DAQAICap})
		if err != nil {
			return touchdown.Result{}, fmt.Errorf("touchdown: step %d: %w", i, err)
		}
		signal := vals[0]

		publish(cfg.TopicTouchdown, telemetry.TouchdownPoint{Step: i, Height: h, Signal: signal})

		res := det.Step(h, signal)
		if res.Outcome == touchdown.Continue {
			continue
		}
		publish(cfg.TopicVerdict, telemetry.Verdict{
			Outcome:   res.Outcome.String(),
			Occurred:  res.Outcome == touchdown.Detected,
			Height:    res.Height,
			PreSlope:  res.PreSlope,
			PostSlope: res.PostSlope,
			Time:      time.Now().UTC().Format(time.RFC3339),
		})
		return res, nil
	}

	// The detector declares RangeExhausted on the last planned step, so
	// the loop cannot fall through with a non-terminal state.
	return touchdown.Result{}, fmt.Errorf("touchdown: sweep ended without a verdict")
}

// sweepHeights expands the configured sweep into the height of every
// step, start towards end in TD_STEP_V increments.
func sweepHeights(start, end, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("touchdown: step voltage must be positive, got %g V", step)
	}
	if start == end {
		return nil, fmt.Errorf("touchdown: sweep start and end are both %g V", start)
	}
	dir := 1.0
	if end < start {
		dir = -1
	}
	n := int(math.Floor(math.Abs(end-start)/step)) + 1
	heights := make([]float64, n)
	for i := range heights {
		heights[i] = start + dir*step*float64(i)
	}
	return heights, nil
}
