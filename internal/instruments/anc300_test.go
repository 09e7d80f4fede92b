// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package instruments

import (
	"bytes"
	"strings"
	"testing"
)

// fakePort scripts an ANC300 controller: every command written gets
// echoed back followed by its scripted response lines.
type fakePort struct {
	t      *testing.T
	script map[string][]string
	sent   []string
	buf    bytes.Buffer
}

func newFakePort(t *testing.T, script map[string][]string) *fakePort {
	return &fakePort{t: t, script: script}
}

func (p *fakePort) Write(b []byte) (int, error) {
	cmd := strings.TrimSuffix(string(b), "\r\n")
	p.sent = append(p.sent, cmd)
	lines, ok := p.script[cmd]
	if !ok {
		p.t.Fatalf("unscripted command %q", cmd)
	}
	p.buf.WriteString(cmd + "\r\n")
	for _, l := range lines {
		p.buf.WriteString(l + "\r\n")
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) { return p.buf.Read(b) }
func (p *fakePort) Close() error               { return nil }

func TestANC300Version(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"ver": {"attocube ANC300 controller version 3.1", "OK"},
	})
	a := NewANC300(port, nil)
	got, err := a.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if got != "attocube ANC300 controller version 3.1" {
		t.Errorf("Version = %q", got)
	}
}

func TestANC300VoltageAndFrequency(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"getv 1": {"voltage = 20.000000 V", "OK"},
		"getf 1": {"frequency = 1000 Hz", "OK"},
	})
	a := NewANC300(port, nil)
	v, err := a.Voltage(1)
	if err != nil {
		t.Fatalf("Voltage: %v", err)
	}
	if v != 20 {
		t.Errorf("Voltage = %g, want 20", v)
	}
	f, err := a.Frequency(1)
	if err != nil {
		t.Fatalf("Frequency: %v", err)
	}
	if f != 1000 {
		t.Errorf("Frequency = %g, want 1000", f)
	}
}

// TestANC300SetVoltageEnforcesLimit verifies an out-of-limit stepping
// voltage is rejected before anything reaches the controller.
func TestANC300SetVoltageEnforcesLimit(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"setv 3 25.000": {"OK"},
	})
	a := NewANC300(port, map[int]float64{3: 30})

	if err := a.SetVoltage(3, 40); err == nil {
		t.Error("SetVoltage accepted 40 V against a 30 V limit")
	}
	if err := a.SetVoltage(3, -1); err == nil {
		t.Error("SetVoltage accepted a negative voltage")
	}
	if len(port.sent) != 0 {
		t.Fatalf("rejected voltages reached the controller: %v", port.sent)
	}
	if err := a.SetVoltage(3, 25); err != nil {
		t.Fatalf("SetVoltage(25): %v", err)
	}
	if len(port.sent) != 1 || port.sent[0] != "setv 3 25.000" {
		t.Errorf("commands sent = %v, want [setv 3 25.000]", port.sent)
	}
}

// TestANC300StepSequence verifies a step train puts the axis in stepping
// mode, waits for the train to finish, and grounds the axis afterwards.
func TestANC300StepSequence(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"setm 2 stp": {"OK"},
		"stepd 2 5":  {"OK"},
		"stepw 2":    {"OK"},
		"setm 2 gnd": {"OK"},
	})
	a := NewANC300(port, nil)
	if err := a.Step(2, -5); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := []string{"setm 2 stp", "stepd 2 5", "stepw 2", "setm 2 gnd"}
	if len(port.sent) != len(want) {
		t.Fatalf("commands sent = %v, want %v", port.sent, want)
	}
	for i := range want {
		if port.sent[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, port.sent[i], want[i])
		}
	}

	// Zero steps is a no-op.
	if err := a.Step(2, 0); err != nil {
		t.Fatalf("Step(0): %v", err)
	}
	if len(port.sent) != len(want) {
		t.Errorf("zero-step move sent commands: %v", port.sent[len(want):])
	}
}

func TestANC300Capacitance(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"setm 1 cap": {"OK"},
		"capw 1":     {"OK"},
		"getc 1":     {"capacitance = 1047.2 nF", "OK"},
	})
	a := NewANC300(port, nil)
	c, err := a.Capacitance(1)
	if err != nil {
		t.Fatalf("Capacitance: %v", err)
	}
	if c != 1047.2 {
		t.Errorf("Capacitance = %g, want 1047.2", c)
	}
}

// TestANC300ErrorResponse verifies an ERROR terminator surfaces as an
// error instead of being swallowed as a payload line.
func TestANC300ErrorResponse(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"setm 1 stp": {"ERROR"},
	})
	a := NewANC300(port, nil)
	if err := a.SetMode(1, "stp"); err == nil {
		t.Error("SetMode succeeded on an ERROR response")
	}
	if err := a.SetMode(1, "sideways"); err == nil {
		t.Error("SetMode accepted an invalid mode")
	}
}

func TestANC300SetModeValidates(t *testing.T) {
	port := newFakePort(t, map[string][]string{
		"setm 1 stp+": {"OK"},
	})
	a := NewANC300(port, nil)
	if err := a.SetMode(1, "stp+"); err != nil {
		t.Fatalf("SetMode(stp+): %v", err)
	}
	if err := a.SetFrequency(1, 20000); err == nil {
		t.Error("SetFrequency accepted 20 kHz")
	}
}
