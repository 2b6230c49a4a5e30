// go-pn5180
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn5180.
//
// go-pn5180 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn5180 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn5180; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package spi provides the SPI transport for the PN5180, including the
// BUSY-line handshake and the hardware reset line.
package spi

import (
	"context"
	"fmt"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// maxFreq is the chip's SPI limit.
	maxFreq = 7 * physic.MegaHertz
	// mode is CPOL=0, CPHA=0, MSB first.
	mode = spi.Mode0

	// busyPollInterval is the delay between BUSY line samples.
	busyPollInterval = 100 * time.Microsecond

	defaultTimeout = 500 * time.Millisecond
)

// Config names the bus and control lines wired to the chip.
type Config struct {
	// Port is the SPI port name understood by spireg, e.g. "SPI0.0".
	// Empty selects the first available port.
	Port string
	// NSS is the chip select line, driven manually around the BUSY
	// handshake. Leave empty when the bus CS is wired instead.
	NSS string
	// Busy is the chip's BUSY output. Required.
	Busy string
	// Reset is the chip's active-low RST line. Required.
	Reset string
	// Speed overrides the bus clock; capped at 7 MHz.
	Speed physic.Frequency
}

// Transport drives the PN5180 host interface over SPI. Every frame
// transfer runs the chip's handshake: wait for BUSY low, select, shift
// the bytes, wait for BUSY high, deselect, wait for BUSY low again.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	nss      gpio.PinOut
	busy     gpio.PinIn
	rst      gpio.PinOut
	portName string
	ffBuf    []byte
	timeout  time.Duration
}

// New opens the SPI port and claims the control lines. The chip is
// left selected-idle (NSS high) with the reset line released.
func New(cfg Config) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	busy := gpioreg.ByName(cfg.Busy)
	if busy == nil {
		return nil, fmt.Errorf("%w: busy pin %q not found", pn5180.ErrInvalidParameter, cfg.Busy)
	}
	rst := gpioreg.ByName(cfg.Reset)
	if rst == nil {
		return nil, fmt.Errorf("%w: reset pin %q not found", pn5180.ErrInvalidParameter, cfg.Reset)
	}
	var nss gpio.PinOut
	if cfg.NSS != "" {
		pin := gpioreg.ByName(cfg.NSS)
		if pin == nil {
			return nil, fmt.Errorf("%w: nss pin %q not found", pn5180.ErrInvalidParameter, cfg.NSS)
		}
		nss = pin
	}

	if err := busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure busy pin: %w", err)
	}
	if err := rst.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to configure reset pin: %w", err)
	}
	if nss != nil {
		if err := nss.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("failed to configure nss pin: %w", err)
		}
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.Port, err)
	}
	speed := cfg.Speed
	if speed == 0 || speed > maxFreq {
		speed = maxFreq
	}
	conn, err := port.Connect(speed, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	return &Transport{
		port:     port,
		conn:     conn,
		nss:      nss,
		busy:     busy,
		rst:      rst,
		portName: cfg.Port,
		timeout:  defaultTimeout,
	}, nil
}

// waitBusy polls the BUSY line until it reaches level or the deadline
// passes.
func (t *Transport) waitBusy(ctx context.Context, level gpio.Level, op string) error {
	deadline := time.Now().Add(t.timeout)
	for t.busy.Read() != level {
		if time.Now().After(deadline) {
			return pn5180.NewBusyTimeoutError(op, t.portName)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(busyPollInterval):
		}
	}
	return nil
}

// selectChip drives NSS low when the line is under our control.
func (t *Transport) selectChip(level gpio.Level) error {
	if t.nss == nil {
		return nil
	}
	if err := t.nss.Out(level); err != nil {
		return fmt.Errorf("nss write failed: %w", err)
	}
	return nil
}

// handshake shifts one frame in or out under the BUSY protocol.
func (t *Transport) handshake(ctx context.Context, w, r []byte, op string) error {
	if err := t.waitBusy(ctx, gpio.Low, op); err != nil {
		return err
	}
	if err := t.selectChip(gpio.Low); err != nil {
		return err
	}
	txErr := t.conn.Tx(w, r)
	if txErr != nil {
		_ = t.selectChip(gpio.High)
		return pn5180.NewTransportError(op, t.portName, txErr, pn5180.ErrorTypeTransient)
	}
	if err := t.waitBusy(ctx, gpio.High, op); err != nil {
		_ = t.selectChip(gpio.High)
		return err
	}
	if err := t.selectChip(gpio.High); err != nil {
		return err
	}
	return t.waitBusy(ctx, gpio.Low, op)
}

// Send writes one command frame to the chip.
func (t *Transport) Send(data []byte) error {
	return t.SendContext(context.Background(), data)
}

// SendContext is like Send but honors context cancellation while
// waiting on the BUSY line.
func (t *Transport) SendContext(ctx context.Context, data []byte) error {
	if t.conn == nil {
		return pn5180.ErrTransportClosed
	}
	return t.handshake(ctx, data, nil, "send")
}

// Receive reads exactly len(buf) response bytes from the chip.
func (t *Transport) Receive(buf []byte) error {
	return t.ReceiveContext(context.Background(), buf)
}

// ReceiveContext is like Receive but honors context cancellation.
func (t *Transport) ReceiveContext(ctx context.Context, buf []byte) error {
	if t.conn == nil {
		return pn5180.ErrTransportClosed
	}
	// The chip shifts data out against dummy 0xFF bytes.
	if len(t.ffBuf) < len(buf) {
		t.ffBuf = make([]byte, len(buf))
		for i := range t.ffBuf {
			t.ffBuf[i] = 0xFF
		}
	}
	return t.handshake(ctx, t.ffBuf[:len(buf)], buf, "receive")
}

// Reset pulses the RST line and gives the chip time to boot. The
// datasheet asks for at least 10us low and 2ms of ramp-up.
func (t *Transport) Reset() error {
	if err := t.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("reset assert failed: %w", err)
	}
	time.Sleep(time.Millisecond)
	if err := t.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("reset release failed: %w", err)
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

// SetTimeout bounds the BUSY handshake waits.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", pn5180.ErrInvalidParameter)
	}
	t.timeout = timeout
	return nil
}

// Close releases the SPI port. The control lines keep their levels.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.conn = nil
	if err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the SPI port is open.
func (t *Transport) IsConnected() bool {
	return t.conn != nil
}

// Type returns the transport type.
func (*Transport) Type() pn5180.TransportType {
	return pn5180.TransportSPI
}
