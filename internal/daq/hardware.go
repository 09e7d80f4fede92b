// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package daq

import (
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// HardwareDevice implements Device on real hardware: an AD5764 DAC over
// SPI for the analog outputs and an ADS1115 for the analog inputs. The
// hardware has no shared buffered clock, so finite tasks are paced by a
// software sample clock owned by the output task; a slaved input task
// samples on the same ticks, which preserves the start-input-first
// ordering contract.
type HardwareDevice struct {
	mu     sync.Mutex
	dac    *ad5764
	pins   map[int]analog.PinADC
	active int
	aoTask *hwOutputTask
	aiOpen bool
}

var adsChannels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// OpenHardware initializes periph, the DAC and the ADC, and prepares one
// ADC pin per requested input channel index (0-3).
func OpenHardware(spiDev, i2cBus string, inputChannels []int) (*HardwareDevice, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("daq: periph host init: %w", err)
	}

	dac, err := openAD5764(spiDev)
	if err != nil {
		return nil, err
	}

	bus, err := i2creg.Open(i2cBus)
	if err != nil {
		dac.Close()
		return nil, fmt.Errorf("daq: I2C bus (%s): %w", i2cBus, err)
	}
	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		dac.Close()
		return nil, fmt.Errorf("daq: ADS1115: %w", err)
	}

	pins := make(map[int]analog.PinADC, len(inputChannels))
	for _, ch := range inputChannels {
		if ch < 0 || ch >= len(adsChannels) {
			dac.Close()
			return nil, fmt.Errorf("daq: input channel %d out of range 0-%d", ch, len(adsChannels)-1)
		}
		pin, err := adc.PinForChannel(adsChannels[ch], 10*physic.Volt, 860*physic.Hertz, ads1x15.SaveEnergy)
		if err != nil {
			dac.Close()
			return nil, fmt.Errorf("daq: ADC pin for channel %d: %w", ch, err)
		}
		pins[ch] = pin
	}
	log.Printf("daq: hardware device ready (DAC on %s, ADC on I2C %q)", spiDev, i2cBus)
	return &HardwareDevice{dac: dac, pins: pins}, nil
}

func (d *HardwareDevice) ActiveTasks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *HardwareDevice) OpenOutputTask(name string, channels []int, rate float64, nsamples int) (OutputTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aoTask != nil {
		return nil, &TaskError{Task: name, Op: "open", Err: fmt.Errorf("an output task is already open")}
	}
	t := &hwOutputTask{
		dev:      d,
		name:     name,
		channels: channels,
		rate:     rate,
		nsamples: nsamples,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	d.aoTask = t
	d.active++
	return t, nil
}

func (d *HardwareDevice) OpenInputTask(name string, channels []int, rate float64, nsamples int, slaveToOutput bool) (InputTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aiOpen {
		return nil, &TaskError{Task: name, Op: "open", Err: fmt.Errorf("an input task is already open")}
	}
	t := &hwInputTask{
		dev:      d,
		name:     name,
		channels: channels,
		rate:     rate,
		nsamples: nsamples,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	if slaveToOutput {
		if d.aoTask == nil {
			return nil, &TaskError{Task: name, Op: "open",
				Err: fmt.Errorf("no output task open to derive the sample clock from")}
		}
		t.clock = d.aoTask.subscribe(nsamples)
	}
	d.aiOpen = true
	d.active++
	return t, nil
}

func (d *HardwareDevice) ReadChannels(channels []int) ([]float64, error) {
	out := make([]float64, len(channels))
	for i, ch := range channels {
		v, err := d.readPin(ch)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *HardwareDevice) readPin(ch int) (float64, error) {
	pin, ok := d.pins[ch]
	if !ok {
		return 0, fmt.Errorf("daq: input channel %d not configured", ch)
	}
	sample, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("daq: read input channel %d: %w", ch, err)
	}
	return float64(sample.V) / float64(physic.Volt), nil
}

// hwOutputTask plays a queued sample buffer out through the DAC at the
// task rate and broadcasts a tick per sample to slaved input tasks.
type hwOutputTask struct {
	dev      *HardwareDevice
	name     string
	channels []int
	rate     float64
	nsamples int

	mu      sync.Mutex
	samples [][]float64
	subs    []chan struct{}
	started bool
	stopped bool
	closed  bool
	err     error

	done chan struct{}
	stop chan struct{}
}

func (t *hwOutputTask) subscribe(n int) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{}, n)
	t.subs = append(t.subs, ch)
	return ch
}

func (t *hwOutputTask) Write(samples [][]float64) (int, error) {
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
	t.mu.Lock()
	t.samples = samples
	t.mu.Unlock()
	return t.nsamples, nil
}

func (t *hwOutputTask) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return &TaskError{Task: t.name, Op: "start", Err: fmt.Errorf("already started")}
	}
	if t.samples == nil {
		t.mu.Unlock()
		return &TaskError{Task: t.name, Op: "start", Err: fmt.Errorf("no samples queued")}
	}
	t.started = true
	samples := t.samples
	t.mu.Unlock()

	period := time.Duration(float64(time.Second) / t.rate)
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for j := 0; j < t.nsamples; j++ {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
			}
			for i, ch := range t.channels {
				if err := t.dev.dac.setVoltage(ch, samples[i][j]); err != nil {
					t.mu.Lock()
					t.err = &TaskError{Task: t.name, Op: "write", Err: err}
					t.mu.Unlock()
					return
				}
			}
			t.mu.Lock()
			subs := t.subs
			t.mu.Unlock()
			for _, sub := range subs {
				select {
				case sub <- struct{}{}:
				default:
				}
			}
		}
	}()
	return nil
}

func (t *hwOutputTask) WaitUntilDone() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *hwOutputTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.stop)
	}
	return nil
}

func (t *hwOutputTask) Close() error {
	t.Stop()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.dev.mu.Lock()
	t.dev.aoTask = nil
	t.dev.active--
	t.dev.mu.Unlock()
	return nil
}

// hwInputTask acquires a fixed number of samples per channel, paced
// either by the output task's sample clock or by its own ticker.
type hwInputTask struct {
	dev      *HardwareDevice
	name     string
	channels []int
	rate     float64
	nsamples int
	clock    chan struct{} // nil unless slaved to the output clock

	mu      sync.Mutex
	data    [][]float64
	started bool
	stopped bool
	closed  bool
	err     error

	done chan struct{}
	stop chan struct{}
}

func (t *hwInputTask) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return &TaskError{Task: t.name, Op: "start", Err: fmt.Errorf("already started")}
	}
	t.started = true
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		data := make([][]float64, len(t.channels))
		for i := range data {
			data[i] = make([]float64, t.nsamples)
		}
		var ticker *time.Ticker
		if t.clock == nil {
			ticker = time.NewTicker(time.Duration(float64(time.Second) / t.rate))
			defer ticker.Stop()
		}
		for j := 0; j < t.nsamples; j++ {
			if t.clock != nil {
				select {
				case <-t.stop:
					return
				case <-t.clock:
				}
			} else {
				select {
				case <-t.stop:
					return
				case <-ticker.C:
				}
			}
			for i, ch := range t.channels {
				v, err := t.dev.readPin(ch)
				if err != nil {
					t.mu.Lock()
					t.err = &TaskError{Task: t.name, Op: "read", Err: err}
					t.mu.Unlock()
					return
				}
				data[i][j] = v
			}
		}
		t.mu.Lock()
		t.data = data
		t.mu.Unlock()
	}()
	return nil
}

func (t *hwInputTask) Read() ([][]float64, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	if t.data == nil {
		return nil, &TaskError{Task: t.name, Op: "read", Err: fmt.Errorf("acquisition stopped before completion")}
	}
	return t.data, nil
}

func (t *hwInputTask) WaitUntilDone() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *hwInputTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.stop)
	}
	return nil
}

func (t *hwInputTask) Close() error {
	t.Stop()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.dev.mu.Lock()
	t.dev.aiOpen = false
	t.dev.active--
	t.dev.mu.Unlock()
	return nil
}
