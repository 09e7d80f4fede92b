// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package touchdown detects probe-sample contact from a noisy signal
// acquired during a slow height sweep. Contact shows up as a change in
// the signal's slope versus height; the detector runs an incremental
// two-segment least-squares search over a trailing window to find it
// with minimal latency and no false positives.
package touchdown

import (
	"fmt"
	"log"
	"math"
)

// Outcome is the detector's verdict after one step. Continue means keep
// stepping; every other outcome is terminal and must stop the governing
// step loop.
type Outcome int

const (
	Continue Outcome = iota
	// AbortUnsafe: the signal drifted or railed, or the pre-contact slope
	// is abnormal. The caller should retract and abort gracefully.
	AbortUnsafe
	// Detected: touchdown found; Result carries the contact height.
	Detected
	// RangeExhausted: the planned travel ended without contact.
	RangeExhausted
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case AbortUnsafe:
		return "abort-unsafe"
	case Detected:
		return "detected"
	case RangeExhausted:
		return "range-exhausted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the verdict for one detector step. Height, PreSlope and
// PostSlope are only meaningful when Outcome is Detected.
type Result struct {
	Outcome   Outcome
	Height    float64
	PreSlope  float64
	PostSlope float64
	Reason    string
}

// Config holds the touchdown constants from the measurement
// configuration.
type Config struct {
	// InitialSignal is the balanced signal level before the sweep; drift
	// beyond MaxDelta from it aborts the sweep.
	InitialSignal float64
	MaxDelta      float64

	// Prefactor converts the recorded signal back to the lock-in output
	// voltage; |signal/Prefactor| above Saturation means the lock-in is
	// railing.
	Prefactor  float64
	Saturation float64

	// MaxSlope bounds the pre-contact slope; MinSlopeDelta is the slope
	// change that declares a touchdown.
	MaxSlope      float64
	MinSlopeDelta float64

	// Window is the trailing window length for the changepoint search;
	// FitMin is the minimum samples in either fitted sub-segment, and
	// FitMax (optional, 0 = unbounded) caps the split offset from the
	// window start.
	Window int
	FitMin int
	FitMax int

	// PlannedSteps is the total number of sweep steps; reaching it
	// without detection is RangeExhausted.
	PlannedSteps int
}

func (c Config) validate() error {
	if c.Window < 2 {
		return fmt.Errorf("touchdown: window must be at least 2, got %d", c.Window)
	}
	if c.FitMin < 2 {
		return fmt.Errorf("touchdown: fit minimum must be at least 2, got %d", c.FitMin)
	}
	if 2*c.FitMin >= c.Window {
		return fmt.Errorf("touchdown: window %d too small for fit minimum %d", c.Window, c.FitMin)
	}
	if c.PlannedSteps < 1 {
		return fmt.Errorf("touchdown: planned steps must be positive, got %d", c.PlannedSteps)
	}
	if c.Prefactor == 0 {
		return fmt.Errorf("touchdown: prefactor must be non-zero")
	}
	return nil
}

// Detector consumes an accumulating (height, signal) series, one sample
// per step. Heights are monotonic (a single ramp direction); the signal
// carries noise.
type Detector struct {
	cfg     Config
	heights []float64
	signals []float64
	done    bool
	term    Result // the terminal result, replayed by later Steps
}

func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:     cfg,
		heights: make([]float64, 0, cfg.PlannedSteps),
		signals: make([]float64, 0, cfg.PlannedSteps),
	}, nil
}

// Step appends one acquired sample and evaluates the detection state
// machine. Calling Step after a terminal outcome returns that outcome
// again without further work.
func (d *Detector) Step(height, signal float64) Result {
	if d.done {
		return d.term
	}
	d.heights = append(d.heights, height)
	d.signals = append(d.signals, signal)
	pt := len(d.signals) - 1

	// Safety gate. Must short-circuit before any regression work.
	if pt > 1 {
		for i := 0; i < 2; i++ {
			if math.Abs(d.signals[pt-i]-d.cfg.InitialSignal) > d.cfg.MaxDelta {
				log.Printf("touchdown: WARNING: signal drifted %.4g from initial value, aborting",
					d.signals[pt-i]-d.cfg.InitialSignal)
				return d.terminal(Result{Outcome: AbortUnsafe, Reason: "signal drifted beyond max delta"})
			}
			if math.Abs(d.signals[pt-i]/d.cfg.Prefactor) > d.cfg.Saturation {
				log.Printf("touchdown: WARNING: lock-in railing at %.4g V, aborting",
					d.signals[pt-i]/d.cfg.Prefactor)
				return d.terminal(Result{Outcome: AbortUnsafe, Reason: "signal saturated"})
			}
		}
	}

	if pt+1 < d.cfg.PlannedSteps && pt > d.cfg.Window+10 {
		if res, terminal := d.search(pt); terminal {
			return d.terminal(res)
		}
	}

	if pt+1 >= d.cfg.PlannedSteps {
		log.Printf("touchdown: no touchdown within planned range of %d steps", d.cfg.PlannedSteps)
		return d.terminal(Result{Outcome: RangeExhausted, Reason: "planned travel exhausted"})
	}
	return Result{Outcome: Continue}
}

// terminal records res as the detector's final state; Step replays it
// from then on.
func (d *Detector) terminal(res Result) Result {
	d.done = true
	d.term = res
	return res
}

// search partitions the trailing window into two sub-segments, fits a
// line to each, and picks the split minimizing the summed residuals. The
// first minimum in ascending split order wins.
func (d *Detector) search(pt int) (Result, bool) {
	w0 := pt - d.cfg.Window // window start
	hi := pt - d.cfg.FitMin
	if d.cfg.FitMax > 0 && w0+d.cfg.FitMax < hi {
		hi = w0 + d.cfg.FitMax
	}
	imin := w0 + d.cfg.FitMin
	rssMin := math.Inf(1)
	for i := w0 + d.cfg.FitMin; i < hi; i++ {
		_, _, rss0 := fitLine(d.heights[w0:i+1], d.signals[w0:i+1])
		_, _, rss1 := fitLine(d.heights[i:], d.signals[i:])
		if rss0+rss1 < rssMin {
			imin = i
			rssMin = rss0 + rss1
		}
	}

	m0, b0, _ := fitLine(d.heights[w0:imin+1], d.signals[w0:imin+1])
	m1, b1, _ := fitLine(d.heights[imin:], d.signals[imin:])

	if math.Abs(m0) > d.cfg.MaxSlope {
		log.Printf("touchdown: WARNING: pre-touchdown slope %.4g too big, aborting", m0)
		return Result{Outcome: AbortUnsafe, PreSlope: m0, PostSlope: m1,
			Reason: "pre-touchdown slope exceeds maximum"}, true
	}

	if math.Abs(m0-m1) > d.cfg.MinSlopeDelta {
		// Contact height is where the two fitted lines intersect. With
		// near-parallel slopes the division blows up; an intersection
		// outside the traversed range is not a valid detection.
		h := (b1 - b0) / (m0 - m1)
		lo, hi := d.heights[0], d.heights[len(d.heights)-1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if h < lo || h > hi {
			log.Printf("touchdown: fitted intersection %.4g V outside traversed range [%g, %g] V, ignoring", h, lo, hi)
			return Result{}, false
		}
		log.Printf("touchdown: touchdown occurred at %.4g V", h)
		return Result{Outcome: Detected, Height: h, PreSlope: m0, PostSlope: m1}, true
	}
	return Result{}, false
}
