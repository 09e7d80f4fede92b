// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package instruments holds the serial request/response clients for the
// auxiliary instruments around the scanner: the ANC300 coarse positioner
// and the SR830 lock-in amplifiers.
package instruments

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
)

// ANC300 is an Attocube ANC300 coarse-positioner controller on RS-232.
// Every command is answered with one or more response lines terminated
// by "OK" or "ERROR".
type ANC300 struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader

	// voltage limit per axis index, set by temperature mode
	limits map[int]float64
}

// NewANC300 wraps an already open port. limits holds the maximum stepping
// voltage per axis index for the current temperature mode.
func NewANC300(port io.ReadWriteCloser, limits map[int]float64) *ANC300 {
	return &ANC300{port: port, reader: bufio.NewReader(port), limits: limits}
}

// OpenANC300 opens the controller's serial port and applies the per-axis
// voltage limits for the current temperature mode.
func OpenANC300(portName string, baudRate uint, limits map[int]float64) (*ANC300, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ANC300: open %s: %w", portName, err)
	}
	log.Printf("ANC300: serial port opened on %s at %d baud", portName, baudRate)
	return NewANC300(port, limits), nil
}

func (a *ANC300) Close() error { return a.port.Close() }

// ask writes a command and reads lines until the controller terminates
// the response with OK or ERROR, returning the payload line (if any).
func (a *ANC300) ask(cmd string) (string, error) {
	if _, err := fmt.Fprintf(a.port, "%s\r\n", cmd); err != nil {
		return "", fmt.Errorf("ANC300: write %q: %w", cmd, err)
	}
	var payload string
	for {
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("ANC300: read response to %q: %w", cmd, err)
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "" || line == cmd: // echo
		case line == "OK":
			return payload, nil
		case strings.Contains(line, "ERROR"):
			return "", fmt.Errorf("ANC300: command %q rejected: %s", cmd, line)
		default:
			payload = line
		}
	}
}

// Version queries the controller firmware version.
func (a *ANC300) Version() (string, error) {
	return a.ask("ver")
}

// SerialNumber queries the controller serial number.
func (a *ANC300) SerialNumber() (string, error) {
	return a.ask("getcser")
}

// Mode returns the mode of an axis (gnd, inp, cap, stp, off).
func (a *ANC300) Mode(axis int) (string, error) {
	resp, err := a.ask(fmt.Sprintf("getm %d", axis))
	if err != nil {
		return "", err
	}
	return parseAssignment(resp, "")
}

// SetMode sets the mode of an axis.
func (a *ANC300) SetMode(axis int, mode string) error {
	switch mode {
	case "gnd", "inp", "cap", "stp", "off", "stp+", "stp-":
	default:
		return fmt.Errorf("ANC300: invalid mode %q", mode)
	}
	_, err := a.ask(fmt.Sprintf("setm %d %s", axis, mode))
	return err
}

// Voltage queries the stepping voltage of an axis, in volts.
func (a *ANC300) Voltage(axis int) (float64, error) {
	resp, err := a.ask(fmt.Sprintf("getv %d", axis))
	if err != nil {
		return 0, err
	}
	return parseNumber(resp, "V")
}

// SetVoltage sets the stepping voltage of an axis, enforcing the
// temperature-mode limit.
func (a *ANC300) SetVoltage(axis int, v float64) error {
	if lim, ok := a.limits[axis]; ok && (v < 0 || v > lim) {
		return fmt.Errorf("ANC300: voltage %.3f V out of range [0 %g] V for axis %d", v, lim, axis)
	}
	_, err := a.ask(fmt.Sprintf("setv %d %.3f", axis, v))
	return err
}

// Frequency queries the stepping frequency of an axis, in Hz.
func (a *ANC300) Frequency(axis int) (float64, error) {
	resp, err := a.ask(fmt.Sprintf("getf %d", axis))
	if err != nil {
		return 0, err
	}
	return parseNumber(resp, "Hz")
}

// SetFrequency sets the stepping frequency of an axis.
func (a *ANC300) SetFrequency(axis int, hz float64) error {
	if hz < 1 || hz > 10000 {
		return fmt.Errorf("ANC300: frequency %g Hz out of range [1 10000] Hz", hz)
	}
	_, err := a.ask(fmt.Sprintf("setf %d %.0f", axis, hz))
	return err
}

// Capacitance measures an axis capacitance in nF. The controller needs
// the axis in cap mode and a settling wait before the reading is stable,
// so the last of three polls is returned.
func (a *ANC300) Capacitance(axis int) (float64, error) {
	if err := a.SetMode(axis, "cap"); err != nil {
		return 0, err
	}
	if _, err := a.ask(fmt.Sprintf("capw %d", axis)); err != nil {
		return 0, err
	}
	var resp string
	var err error
	for i := 0; i < 3; i++ {
		resp, err = a.ask(fmt.Sprintf("getc %d", axis))
		if err != nil {
			return 0, err
		}
	}
	return parseNumber(resp, "nF")
}

// Step performs n coarse steps on an axis; n > 0 steps up, n < 0 steps
// down. The axis is put in stepping mode for the move and grounded
// afterwards.
func (a *ANC300) Step(axis, n int) error {
	if n == 0 {
		return nil
	}
	if err := a.SetMode(axis, "stp"); err != nil {
		return err
	}
	dir := "u"
	if n < 0 {
		dir = "d"
		n = -n
	}
	log.Printf("ANC300: performing %d step%s (%s) on axis %d", n, plural(n), dir, axis)
	if _, err := a.ask(fmt.Sprintf("step%s %d %d", dir, axis, n)); err != nil {
		return err
	}
	// stepw blocks until the step train has finished.
	if _, err := a.ask(fmt.Sprintf("stepw %d", axis)); err != nil {
		return err
	}
	return a.SetMode(axis, "gnd")
}

// StopAxis halts all motion on an axis and grounds its output.
func (a *ANC300) StopAxis(axis int) error {
	log.Printf("ANC300: stopping axis %d", axis)
	if _, err := a.ask(fmt.Sprintf("stop %d", axis)); err != nil {
		return err
	}
	return a.SetMode(axis, "gnd")
}

// parseAssignment extracts the value from a controller response like
// "mode = gnd".
func parseAssignment(resp, unit string) (string, error) {
	_, after, found := strings.Cut(resp, "=")
	if !found {
		return "", fmt.Errorf("ANC300: malformed response %q", resp)
	}
	v := strings.TrimSpace(after)
	if unit != "" {
		v = strings.TrimSpace(strings.TrimSuffix(v, unit))
	}
	return v, nil
}

// parseNumber extracts a numeric value from a response like
// "voltage = 20.000000 V".
func parseNumber(resp, unit string) (float64, error) {
	s, err := parseAssignment(resp, unit)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ANC300: parse %q: %w", resp, err)
	}
	return v, nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
