// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scanner

import (
	"fmt"
	"log"

	"github.com/relabs-tech/squid_scanner/internal/daq"
)

// Counter tracks the current line of a scan. It is shared by reference
// across all steps of the scan loop and advanced exactly once per
// completed line, by the sequencing driver only.
type Counter struct {
	count int
}

// Count returns the current line index.
func (c *Counter) Count() int { return c.count }

// Advance increments the counter by exactly one. It must be called only
// after a line's full acquire/move cycle has completed, so a failure
// mid-line does not advance past unfinished data.
func (c *Counter) Advance() { c.count++ }

// Sequencer orchestrates single raster lines: it queues each line's
// samples on a clocked AO task and moves the scanner between lines.
// The acquisition driver owns the start/wait ordering against the
// input task.
type Sequencer struct {
	dev     daq.Device
	scanner *Scanner
	grid    *Grid
	ao      ChannelMap
	rate    float64

	aoTask daq.OutputTask
}

func NewSequencer(dev daq.Device, s *Scanner, grid *Grid, ao ChannelMap, rate float64) *Sequencer {
	return &Sequencer{dev: dev, scanner: s, grid: grid, ao: ao, rate: rate}
}

// ScanLine configures a finite clocked AO task covering exactly the
// current line's samples and queues them for write, without starting the
// hardware clock. If reverse is set the sample order is flipped
// (serpentine scanning). The caller must start the input task before
// starting this output task: the input clock is slaved to the output
// sample clock, and starting output first drops the first samples.
func (q *Sequencer) ScanLine(c *Counter, reverse bool) error {
	if q.aoTask != nil {
		return fmt.Errorf("scanner: previous line's output task still open")
	}
	line := c.Count()
	if line >= q.grid.Lines() {
		return fmt.Errorf("scanner: line %d out of range, grid has %d lines", line, q.grid.Lines())
	}

	out := make([][]float64, NumAxes)
	for a := 0; a < NumAxes; a++ {
		row := q.grid.Axis(Axis(a))[line]
		if reverse {
			row = reversed(row)
		}
		out[a] = row
	}

	task, err := q.dev.OpenOutputTask("scan_line_ao_task",
		[]int{q.ao[AxisX], q.ao[AxisY], q.ao[AxisZ]}, q.rate, len(out[0]))
	if err != nil {
		return err
	}
	log.Printf("scanner: writing line %d", line)
	if _, err := task.Write(out); err != nil {
		task.Close()
		return err
	}
	q.aoTask = task
	return nil
}

// LineSamples returns the number of samples in every scan line, which is
// also the sample count an input task covering one line must use.
func (q *Sequencer) LineSamples() int { return len(q.grid.X[0]) }

// StartOutput starts the queued line's output clock.
func (q *Sequencer) StartOutput() error {
	if q.aoTask == nil {
		return fmt.Errorf("scanner: no output task queued")
	}
	return q.aoTask.Start()
}

// WaitOutput blocks until the queued line has been fully written.
func (q *Sequencer) WaitOutput() error {
	if q.aoTask == nil {
		return fmt.Errorf("scanner: no output task queued")
	}
	return q.aoTask.WaitUntilDone()
}

// CloseOutput stops and closes the line's output task, releasing the
// channels for ordinary position moves. Safe to call when no task is
// open, so it can run unconditionally on cleanup paths.
func (q *Sequencer) CloseOutput() error {
	if q.aoTask == nil {
		return nil
	}
	task := q.aoTask
	q.aoTask = nil
	if err := task.Stop(); err != nil {
		task.Close()
		return err
	}
	return task.Close()
}

// GoToStartOfNextLine moves the scanner to the first sample of line+1
// with a quiet move. If the current line is the last one this is a
// no-op: end of scan is a normal terminal condition, not an error.
func (q *Sequencer) GoToStartOfNextLine(c *Counter) error {
	next := c.Count() + 1
	if next >= q.grid.Lines() {
		return nil
	}
	return q.scanner.GoTo(q.grid.LineStart(next), MoveOptions{Quiet: true})
}

func reversed(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
