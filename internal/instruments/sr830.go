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

// SR830 is a Stanford Research SR830 lock-in amplifier on RS-232. Only
// the handful of registers the scan and touchdown drivers touch are
// exposed: excitation amplitude, time constant and sensitivity, plus the
// measured outputs.
type SR830 struct {
	name   string
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// sr830TimeConstants maps the OFLT index to seconds.
var sr830TimeConstants = []float64{
	10e-6, 30e-6, 100e-6, 300e-6, 1e-3, 3e-3, 10e-3, 30e-3,
	100e-3, 300e-3, 1, 3, 10, 30, 100, 300,
	1e3, 3e3, 10e3, 30e3,
}

// sr830Sensitivities maps the SENS index to volts.
var sr830Sensitivities = []float64{
	2e-9, 5e-9, 10e-9, 20e-9, 50e-9, 100e-9, 200e-9, 500e-9,
	1e-6, 2e-6, 5e-6, 10e-6, 20e-6, 50e-6, 100e-6, 200e-6,
	500e-6, 1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3, 100e-3,
	200e-3, 500e-3, 1,
}

// OpenSR830 opens a lock-in on the given serial port. name labels log
// lines (e.g. "CAP" or "SUSC").
func OpenSR830(name, portName string, baudRate uint) (*SR830, error) {
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
		return nil, fmt.Errorf("%s lock-in: open %s: %w", name, portName, err)
	}
	log.Printf("%s lock-in: serial port opened on %s at %d baud", name, portName, baudRate)
	return &SR830{name: name, port: port, reader: bufio.NewReader(port)}, nil
}

func (s *SR830) Close() error { return s.port.Close() }

func (s *SR830) write(cmd string) error {
	if _, err := fmt.Fprintf(s.port, "%s\r", cmd); err != nil {
		return fmt.Errorf("%s lock-in: write %q: %w", s.name, cmd, err)
	}
	return nil
}

func (s *SR830) query(cmd string) (string, error) {
	if err := s.write(cmd); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\r')
	if err != nil {
		return "", fmt.Errorf("%s lock-in: read response to %q: %w", s.name, cmd, err)
	}
	return strings.TrimSpace(line), nil
}

func (s *SR830) queryFloat(cmd string) (float64, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, fmt.Errorf("%s lock-in: parse response %q to %q: %w", s.name, resp, cmd, err)
	}
	return v, nil
}

// Amplitude queries the sine excitation amplitude in volts.
func (s *SR830) Amplitude() (float64, error) {
	return s.queryFloat("SLVL?")
}

// SetAmplitude sets the sine excitation amplitude in volts. The
// instrument accepts 0.004 to 5 V; the scan driver sets the minimum to
// effectively zero the excitation on shutdown.
func (s *SR830) SetAmplitude(v float64) error {
	if v < 0.004 || v > 5 {
		return fmt.Errorf("%s lock-in: amplitude %g V out of range [0.004 5] V", s.name, v)
	}
	log.Printf("%s lock-in: setting amplitude to %g V", s.name, v)
	return s.write(fmt.Sprintf("SLVL %.3f", v))
}

// TimeConstant queries the time constant in seconds.
func (s *SR830) TimeConstant() (float64, error) {
	idx, err := s.queryFloat("OFLT?")
	if err != nil {
		return 0, err
	}
	i := int(idx)
	if i < 0 || i >= len(sr830TimeConstants) {
		return 0, fmt.Errorf("%s lock-in: time constant index %d out of range", s.name, i)
	}
	return sr830TimeConstants[i], nil
}

// Sensitivity queries the input sensitivity in volts.
func (s *SR830) Sensitivity() (float64, error) {
	idx, err := s.queryFloat("SENS?")
	if err != nil {
		return 0, err
	}
	i := int(idx)
	if i < 0 || i >= len(sr830Sensitivities) {
		return 0, fmt.Errorf("%s lock-in: sensitivity index %d out of range", s.name, i)
	}
	return sr830Sensitivities[i], nil
}

// X reads the in-phase output in volts.
func (s *SR830) X() (float64, error) { return s.queryFloat("OUTP? 1") }

// Y reads the quadrature output in volts.
func (s *SR830) Y() (float64, error) { return s.queryFloat("OUTP? 2") }

// R reads the magnitude output in volts.
func (s *SR830) R() (float64, error) { return s.queryFloat("OUTP? 3") }
