// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package daq

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// ad5764 drives an AD5764 quad 16-bit bipolar DAC over SPI. The scanner
// benders sit on three of its four outputs. Full-scale range is ±10 V.
type ad5764 struct {
	port spi.PortCloser
	conn spi.Conn
}

const dacFullScale = 10.0 // V

func openAD5764(spiDev string) (*ad5764, error) {
	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("DAC: SPI port (%s): %w", spiDev, err)
	}
	// AD5764 clocks data on the falling edge with CPOL=0: SPI mode 1,
	// 24-bit frames sent as 3 bytes.
	conn, err := port.Connect(10*physic.MegaHertz, spi.Mode1, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("DAC: SPI connect: %w", err)
	}
	return &ad5764{port: port, conn: conn}, nil
}

// setVoltage writes one DAC data register. Channel addresses 0-3 map to
// outputs A-D.
func (d *ad5764) setVoltage(ch int, v float64) error {
	if ch < 0 || ch > 3 {
		return fmt.Errorf("DAC: channel %d out of range 0-3", ch)
	}
	if v > dacFullScale {
		v = dacFullScale
	} else if v < -dacFullScale {
		v = -dacFullScale
	}
	code := int16(v / dacFullScale * 32767)
	// Frame: R/W=0, REG=010 (DAC register), A2..A0 = channel.
	frame := []byte{byte(0x10 | ch), byte(uint16(code) >> 8), byte(uint16(code))}
	if err := d.conn.Tx(frame, nil); err != nil {
		return fmt.Errorf("DAC: write channel %d: %w", ch, err)
	}
	return nil
}

func (d *ad5764) Close() error {
	return d.port.Close()
}
