// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package daq is the boundary to the acquisition hardware. The scanner
// benders are driven by clocked analog-output tasks and read back (along
// with the measurement channels) via analog-input tasks. At most one
// output task and one input task may be open at a time; every task must
// be closed before the channels can be reused, e.g. for an ordinary
// position move between scan lines.
package daq

import "fmt"

// OutputTask is a finite, clocked analog-output task. Write queues the
// sample buffer without starting the clock; Start begins playback.
type OutputTask interface {
	// Write queues one row of samples per channel. Rows must have equal
	// length matching the sample count the task was opened with.
	Write(samples [][]float64) (int, error)
	Start() error
	// WaitUntilDone blocks until the last queued sample has been written.
	WaitUntilDone() error
	Stop() error
	Close() error
}

// InputTask is a finite, clocked analog-input task.
type InputTask interface {
	Start() error
	// Read blocks until the configured number of samples per channel has
	// been acquired and returns them, one row per channel.
	Read() ([][]float64, error)
	WaitUntilDone() error
	Stop() error
	Close() error
}

// Device is an opaque synchronous analog I/O device.
type Device interface {
	// OpenOutputTask configures a finite clocked output covering nsamples
	// samples per channel at the given rate.
	OpenOutputTask(name string, channels []int, rate float64, nsamples int) (OutputTask, error)

	// OpenInputTask configures a finite clocked input of nsamples samples
	// per channel. If slaveToOutput is set, the input sample clock is
	// derived from the currently open output task's clock; the input task
	// must then be started before the output task, or the first samples
	// are dropped.
	OpenInputTask(name string, channels []int, rate float64, nsamples int, slaveToOutput bool) (InputTask, error)

	// ReadChannels performs a single on-demand read of the given input
	// channels, one value per channel.
	ReadChannels(channels []int) ([]float64, error)

	// ActiveTasks reports how many tasks are currently open.
	ActiveTasks() int
}

// TaskError reports an I/O failure on a named task. Task errors are not
// retried; the failed operation is abandoned and the task closed.
type TaskError struct {
	Task string
	Op   string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("daq task %s: %s: %v", e.Task, e.Op, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
