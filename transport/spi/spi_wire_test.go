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

package spi

import (
	"context"
	"testing"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// fakeBusyPin implements gpio.PinIn with a scripted level sequence.
// Each Read pops the next level; the script repeats when exhausted.
type fakeBusyPin struct {
	script []gpio.Level
	pos    int
}

func (*fakeBusyPin) String() string   { return "fake-busy" }
func (*fakeBusyPin) Halt() error      { return nil }
func (*fakeBusyPin) Name() string     { return "fake-busy" }
func (*fakeBusyPin) Number() int      { return 0 }
func (*fakeBusyPin) Function() string { return "In" }

func (*fakeBusyPin) WaitForEdge(time.Duration) bool { return false }
func (*fakeBusyPin) Pull() gpio.Pull                { return gpio.PullNoChange }
func (*fakeBusyPin) DefaultPull() gpio.Pull         { return gpio.PullNoChange }

func (*fakeBusyPin) In(gpio.Pull, gpio.Edge) error { return nil }

func (p *fakeBusyPin) Read() gpio.Level {
	if len(p.script) == 0 {
		return gpio.Low
	}
	level := p.script[p.pos%len(p.script)]
	p.pos++
	return level
}

// fakeOutPin implements gpio.PinOut and records every level written.
type fakeOutPin struct {
	name   string
	levels []gpio.Level
}

func (p *fakeOutPin) String() string { return p.name }
func (*fakeOutPin) Halt() error      { return nil }
func (p *fakeOutPin) Name() string   { return p.name }
func (*fakeOutPin) Number() int      { return 0 }
func (*fakeOutPin) Function() string { return "Out" }

func (p *fakeOutPin) Out(level gpio.Level) error {
	p.levels = append(p.levels, level)
	return nil
}

func (*fakeOutPin) PWM(gpio.Duty, physic.Frequency) error { return nil }

func (p *fakeOutPin) last() gpio.Level {
	if len(p.levels) == 0 {
		return gpio.High
	}
	return p.levels[len(p.levels)-1]
}

// fakeSPIConn implements spi.Conn, recording writes and answering reads
// from a canned response.
type fakeSPIConn struct {
	writes   [][]byte
	response []byte
}

func (c *fakeSPIConn) Tx(w, r []byte) error {
	c.writes = append(c.writes, append([]byte(nil), w...))
	copy(r, c.response)
	return nil
}

func (*fakeSPIConn) String() string      { return "fake://spi" }
func (*fakeSPIConn) Duplex() conn.Duplex { return conn.Full }

func (c *fakeSPIConn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := c.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// fakeSPIPort implements spi.PortCloser.
type fakeSPIPort struct {
	conn   *fakeSPIConn
	closed bool
}

func (p *fakeSPIPort) Connect(physic.Frequency, spi.Mode, int) (spi.Conn, error) {
	return p.conn, nil
}

func (p *fakeSPIPort) Close() error {
	p.closed = true
	return nil
}

func (*fakeSPIPort) String() string                    { return "fake://spi" }
func (*fakeSPIPort) LimitSpeed(physic.Frequency) error { return nil }

var (
	_ spi.Conn       = (*fakeSPIConn)(nil)
	_ spi.PortCloser = (*fakeSPIPort)(nil)
	_ gpio.PinIn     = (*fakeBusyPin)(nil)
	_ gpio.PinOut    = (*fakeOutPin)(nil)
)

// handshakeScript follows the BUSY protocol for one frame: low before
// the transfer, high after it, low again once deselected.
func handshakeScript() []gpio.Level {
	return []gpio.Level{gpio.Low, gpio.High, gpio.Low}
}

func newTestTransport(busy *fakeBusyPin, nss, rst *fakeOutPin) (*Transport, *fakeSPIConn) {
	spiConn := &fakeSPIConn{}
	transport := &Transport{
		port:     &fakeSPIPort{conn: spiConn},
		conn:     spiConn,
		busy:     busy,
		rst:      rst,
		portName: "fake://spi",
		timeout:  100 * time.Millisecond,
	}
	if nss != nil {
		transport.nss = nss
	}
	return transport, spiConn
}

func TestSPI_SendShiftsFrameUnderHandshake(t *testing.T) {
	t.Parallel()
	busy := &fakeBusyPin{script: handshakeScript()}
	nss := &fakeOutPin{name: "fake-nss"}
	transport, spiConn := newTestTransport(busy, nss, &fakeOutPin{name: "fake-rst"})

	frame := []byte{0x04, 0x1D}
	require.NoError(t, transport.Send(frame))

	require.Len(t, spiConn.writes, 1)
	assert.Equal(t, frame, spiConn.writes[0])
	// NSS: asserted low for the transfer, released high afterwards
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, nss.levels)
}

func TestSPI_ReceiveShiftsDummyBytes(t *testing.T) {
	t.Parallel()
	busy := &fakeBusyPin{script: handshakeScript()}
	transport, spiConn := newTestTransport(busy, nil, &fakeOutPin{name: "fake-rst"})
	spiConn.response = []byte{0xBE, 0xEF, 0xAD, 0xDE}

	buf := make([]byte, 4)
	require.NoError(t, transport.Receive(buf))

	assert.Equal(t, []byte{0xBE, 0xEF, 0xAD, 0xDE}, buf)
	// the read clocks out all-0xFF filler of the same length
	require.Len(t, spiConn.writes, 1)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, spiConn.writes[0])
}

func TestSPI_BusyNeverDeassertsTimesOut(t *testing.T) {
	t.Parallel()
	// BUSY stuck high: the pre-transfer wait for low can never finish
	busy := &fakeBusyPin{script: []gpio.Level{gpio.High}}
	transport, spiConn := newTestTransport(busy, nil, &fakeOutPin{name: "fake-rst"})
	require.NoError(t, transport.SetTimeout(30*time.Millisecond))

	start := time.Now()
	err := transport.Send([]byte{0x04, 0x1D})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, pn5180.ErrBusyTimeout)
	assert.Less(t, elapsed, time.Second, "timeout must fire near the configured bound")
	assert.Empty(t, spiConn.writes, "no bytes may be shifted while the chip is busy")

	start = time.Now()
	err = transport.Receive(make([]byte, 2))
	elapsed = time.Since(start)

	require.ErrorIs(t, err, pn5180.ErrBusyTimeout)
	assert.Less(t, elapsed, time.Second)
}

func TestSPI_BusyStuckLowAfterTransferReleasesNSS(t *testing.T) {
	t.Parallel()
	// BUSY never rises after the transfer: the post-transfer wait for
	// high times out and the chip select must still be released
	busy := &fakeBusyPin{script: []gpio.Level{gpio.Low}}
	nss := &fakeOutPin{name: "fake-nss"}
	transport, _ := newTestTransport(busy, nss, &fakeOutPin{name: "fake-rst"})
	require.NoError(t, transport.SetTimeout(30*time.Millisecond))

	err := transport.Send([]byte{0x04, 0x1D})
	require.ErrorIs(t, err, pn5180.ErrBusyTimeout)
	assert.Equal(t, gpio.High, nss.last())
}

func TestSPI_CanceledContextAbortsBusyWait(t *testing.T) {
	t.Parallel()
	busy := &fakeBusyPin{script: []gpio.Level{gpio.High}}
	transport, _ := newTestTransport(busy, nil, &fakeOutPin{name: "fake-rst"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := transport.SendContext(ctx, []byte{0x04, 0x1D})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSPI_ResetPulsesLine(t *testing.T) {
	t.Parallel()
	busy := &fakeBusyPin{script: handshakeScript()}
	rst := &fakeOutPin{name: "fake-rst"}
	transport, _ := newTestTransport(busy, nil, rst)

	require.NoError(t, transport.Reset())
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, rst.levels)
}

func TestSPI_CloseReleasesPort(t *testing.T) {
	t.Parallel()
	busy := &fakeBusyPin{script: handshakeScript()}
	transport, _ := newTestTransport(busy, nil, &fakeOutPin{name: "fake-rst"})
	port, _ := transport.port.(*fakeSPIPort)

	require.NoError(t, transport.Close())
	assert.True(t, port.closed)
	assert.False(t, transport.IsConnected())

	err := transport.Send([]byte{0x04})
	require.ErrorIs(t, err, pn5180.ErrTransportClosed)
}

func TestSPI_SetTimeoutRejectsNonPositive(t *testing.T) {
	t.Parallel()
	busy := &fakeBusyPin{script: handshakeScript()}
	transport, _ := newTestTransport(busy, nil, &fakeOutPin{name: "fake-rst"})

	require.ErrorIs(t, transport.SetTimeout(0), pn5180.ErrInvalidParameter)
	require.ErrorIs(t, transport.SetTimeout(-time.Second), pn5180.ErrInvalidParameter)
}
