package daq

import (
	"fmt"
	"sync"
)

// TraceEvent records one lifecycle operation on a simulated task, in the
// order the device saw it.
type TraceEvent struct {
	Task string
	Op   string // "open", "write", "start", "wait", "stop", "close"
}

// SimDevice is an in-memory Device for tests and dry runs. Output levels
// are tracked per channel; input channels either mirror an output channel
// (position readback wiring) or are synthesized by a signal function.
type SimDevice struct {
	mu     sync.Mutex
	levels map[int]float64
	mirror map[int]int // input channel -> output channel it mirrors
	signal func(ch int, levels map[int]float64) float64

	trace  []TraceEvent
	writes [][][]float64
	active int
	aoOpen bool
	aiOpen bool
	failOp string
}

func NewSimDevice() *SimDevice {
	return &SimDevice{
		levels: make(map[int]float64),
		mirror: make(map[int]int),
	}
}

// Mirror wires input channel ai to read back the last level written to
// output channel ao.
func (d *SimDevice) Mirror(ai, ao int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mirror[ai] = ao
}

// SetSignal installs the synthesizer for non-mirrored input channels.
func (d *SimDevice) SetSignal(fn func(ch int, levels map[int]float64) float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signal = fn
}

// FailOn makes the next task operation with the given op name fail.
func (d *SimDevice) FailOn(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOp = op
}

// Trace returns every task operation seen so far, in order.
func (d *SimDevice) Trace() []TraceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TraceEvent, len(d.trace))
	copy(out, d.trace)
	return out
}

// Writes returns every output buffer queued so far, in order.
func (d *SimDevice) Writes() [][][]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][][]float64, len(d.writes))
	copy(out, d.writes)
	return out
}

// Level returns the last level written to an output channel.
func (d *SimDevice) Level(ch int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[ch]
}

func (d *SimDevice) ActiveTasks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *SimDevice) record(task, op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace = append(d.trace, TraceEvent{Task: task, Op: op})
	if d.failOp == op {
		d.failOp = ""
		return fmt.Errorf("simulated %s failure", op)
	}
	return nil
}

func (d *SimDevice) OpenOutputTask(name string, channels []int, rate float64, nsamples int) (OutputTask, error) {
	d.mu.Lock()
	if d.aoOpen {
		d.mu.Unlock()
		return nil, &TaskError{Task: name, Op: "open", Err: fmt.Errorf("an output task is already open")}
	}
	d.aoOpen = true
	d.active++
	d.mu.Unlock()
	if err := d.record(name, "open"); err != nil {
		return nil, &TaskError{Task: name, Op: "open", Err: err}
	}
	return &simOutputTask{dev: d, name: name, channels: channels, nsamples: nsamples}, nil
}

func (d *SimDevice) OpenInputTask(name string, channels []int, rate float64, nsamples int, slaveToOutput bool) (InputTask, error) {
	d.mu.Lock()
	if d.aiOpen {
		d.mu.Unlock()
		return nil, &TaskError{Task: name, Op: "open", Err: fmt.Errorf("an input task is already open")}
	}
	d.aiOpen = true
	d.active++
	d.mu.Unlock()
	if err := d.record(name, "open"); err != nil {
		return nil, &TaskError{Task: name, Op: "open", Err: err}
	}
	return &simInputTask{dev: d, name: name, channels: channels, nsamples: nsamples}, nil
}

func (d *SimDevice) ReadChannels(channels []int) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(channels))
	for i, ch := range channels {
		out[i] = d.sample(ch)
	}
	return out, nil
}

// sample must be called with d.mu held.
func (d *SimDevice) sample(ch int) float64 {
	if ao, ok := d.mirror[ch]; ok {
		return d.levels[ao]
	}
	if d.signal != nil {
		return d.signal(ch, d.levels)
	}
	return 0
}

type simOutputTask struct {
	dev      *SimDevice
	name     string
	channels []int
	nsamples int
	queued   [][]float64
	closed   bool
}

func (t *simOutputTask) Write(samples [][]float64) (int, error) {
	if len(samples) != len(t.channels) {
		return 0, &TaskError{Task: t.name, Op: "write",
			Err: fmt.Errorf("got %d rows for %d channels", len(samples), len(t.channels))}
	}
	for _, row := range samples {
		if len(row) != t.nsamples {
			return 0, &TaskError{Task: t.name, Op: "write",
				Err: fmt.Errorf("row has %d samples, task configured for %d", len(row), t.nsamples)}
		}
	}
	if err := t.dev.record(t.name, "write"); err != nil {
		return 0, &TaskError{Task: t.name, Op: "write", Err: err}
	}
	t.queued = samples
	t.dev.mu.Lock()
	t.dev.writes = append(t.dev.writes, samples)
	t.dev.mu.Unlock()
	return t.nsamples, nil
}

func (t *simOutputTask) Start() error {
	if err := t.dev.record(t.name, "start"); err != nil {
		return &TaskError{Task: t.name, Op: "start", Err: err}
	}
	return nil
}

func (t *simOutputTask) WaitUntilDone() error {
	if err := t.dev.record(t.name, "wait"); err != nil {
		return &TaskError{Task: t.name, Op: "wait", Err: err}
	}
	// Playback complete: channels rest at the final sample.
	t.dev.mu.Lock()
	for i, ch := range t.channels {
		if len(t.queued) > i && len(t.queued[i]) > 0 {
			t.dev.levels[ch] = t.queued[i][len(t.queued[i])-1]
		}
	}
	t.dev.mu.Unlock()
	return nil
}

func (t *simOutputTask) Stop() error {
	if err := t.dev.record(t.name, "stop"); err != nil {
		return &TaskError{Task: t.name, Op: "stop", Err: err}
	}
	return nil
}

func (t *simOutputTask) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.dev.mu.Lock()
	t.dev.aoOpen = false
	t.dev.active--
	t.dev.mu.Unlock()
	if err := t.dev.record(t.name, "close"); err != nil {
		return &TaskError{Task: t.name, Op: "close", Err: err}
	}
	return nil
}

type simInputTask struct {
	dev      *SimDevice
	name     string
	channels []int
	nsamples int
	closed   bool
}

func (t *simInputTask) Start() error {
	if err := t.dev.record(t.name, "start"); err != nil {
		return &TaskError{Task: t.name, Op: "start", Err: err}
	}
	return nil
}

func (t *simInputTask) Read() ([][]float64, error) {
	if err := t.dev.record(t.name, "read"); err != nil {
		return nil, &TaskError{Task: t.name, Op: "read", Err: err}
	}
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	out := make([][]float64, len(t.channels))
	for i, ch := range t.channels {
		row := make([]float64, t.nsamples)
		v := t.dev.sample(ch)
		for j := range row {
			row[j] = v
		}
		out[i] = row
	}
	return out, nil
}

func (t *simInputTask) WaitUntilDone() error {
	if err := t.dev.record(t.name, "wait"); err != nil {
		return &TaskError{Task: t.name, Op: "wait", Err: err}
	}
	return nil
}

func (t *simInputTask) Stop() error {
	if err := t.dev.record(t.name, "stop"); err != nil {
		return &TaskError{Task: t.name, Op: "stop", Err: err}
	}
	return nil
}

func (t *simInputTask) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.dev.mu.Lock()
	t.dev.aiOpen = false
	t.dev.active--
	t.dev.mu.Unlock()
	if err := t.dev.record(t.name, "close"); err != nil {
		return &TaskError{Task: t.name, Op: "close", Err: err}
	}
	return nil
}
