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

// Package testing provides a behavioral PN5180 simulator implementing
// the transport interface, with virtual ISO15693 and ISO14443-A cards
// in its RF field. It models the host command set, the IRQ flags and
// the 16-slot inventory sequence closely enough to exercise the full
// driver stack without hardware.
package testing

import (
	"encoding/binary"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// Host command opcodes understood by the simulator.
const (
	simCmdWriteRegister    = 0x00
	simCmdWriteRegisterOr  = 0x01
	simCmdWriteRegisterAnd = 0x02
	simCmdReadRegister     = 0x04
	simCmdWriteEEPROM      = 0x06
	simCmdReadEEPROM       = 0x07
	simCmdSendData         = 0x09
	simCmdReadData         = 0x0A
	simCmdSwitchMode       = 0x0B
	simCmdMifareAuth       = 0x0C
	simCmdLoadRFConfig     = 0x11
	simCmdRFOn             = 0x16
	simCmdRFOff            = 0x17
)

// Register addresses mirrored by the simulator.
const (
	simRegSystemConfig = 0x00
	simRegIRQEnable    = 0x01
	simRegIRQStatus    = 0x02
	simRegIRQClear     = 0x03
	simRegCRCRXConfig  = 0x12
	simRegRXStatus     = 0x13
	simRegTXConfig     = 0x18
	simRegCRCTXConfig  = 0x19
	simRegRFStatus     = 0x1D
	simRegSystemStatus = 0x24
)

// IRQ bits.
const (
	simIRQRX       uint32 = 1 << 0
	simIRQTX       uint32 = 1 << 1
	simIRQIdle     uint32 = 1 << 2
	simIRQTXRFOff  uint32 = 1 << 8
	simIRQTXRFOn   uint32 = 1 << 9
	simIRQRXSOFDet uint32 = 1 << 14
	simIRQLPCD     uint32 = 1 << 19
)

const (
	simRXCollision uint32 = 1 << 18
	simTSIdle      uint32 = 0 << 24
	simTSWaitTX    uint32 = 1 << 24
)

// inventoryPoll tracks a running 16-slot inventory sequence.
type inventoryPoll struct {
	mask    uint64
	maskLen int
	slot    int
}

// VirtualPN5180 is a software stand-in for the chip. It implements the
// driver's transport interface; every Send is executed synchronously
// and the resulting response bytes are delivered by the next Receive.
type VirtualPN5180 struct {
	sendErr     error
	receiveErr  error
	poll        *inventoryPoll
	vicinity    []*VicinityTag
	proximity   *ProximityTag
	readout     []byte
	rxBuffer    []byte
	eeprom      [255]byte
	regs        map[byte]uint32
	mu          syncutil.Mutex
	txConfig    byte
	rxConfig    byte
	proxState   proximityState
	rfOn        bool
	closed      bool
	lpcd        bool
	exchanges   int
}

// NewVirtualPN5180 creates a powered-up simulator with an empty field.
func NewVirtualPN5180() *VirtualPN5180 {
	v := &VirtualPN5180{}
	v.powerUp()
	return v
}

func (v *VirtualPN5180) powerUp() {
	v.regs = map[byte]uint32{
		simRegIRQStatus: simIRQIdle,
	}
	v.rfOn = false
	v.lpcd = false
	v.poll = nil
	v.rxBuffer = nil
	v.readout = nil
	v.proxState = proxIdle

	// identity area
	copy(v.eeprom[0x00:], []byte{
		0x5C, 0xA9, 0x1D, 0x04, 0xE2, 0x01, 0x5F, 0x00,
		0x10, 0x29, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	})
	v.eeprom[0x10] = 0x01 // product minor
	v.eeprom[0x11] = 0x04 // product major
	v.eeprom[0x12] = 0x02 // firmware minor
	v.eeprom[0x13] = 0x04 // firmware major
	v.eeprom[0x14] = 0x01 // eeprom minor
	v.eeprom[0x15] = 0x91 // eeprom major
}

// AddVicinityTag places an ISO15693 card into the field.
func (v *VirtualPN5180) AddVicinityTag(tag *VicinityTag) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vicinity = append(v.vicinity, tag)
}

// RemoveVicinityTags empties the vicinity side of the field.
func (v *VirtualPN5180) RemoveVicinityTags() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vicinity = nil
	v.poll = nil
}

// SetProximityTag places an ISO14443-A card into the field, replacing
// any previous one. Pass nil to empty the field.
func (v *VirtualPN5180) SetProximityTag(tag *ProximityTag) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.proximity = tag
	v.proxState = proxIdle
}

// SetSendError makes every subsequent Send fail with err. Pass nil to
// restore normal operation.
func (v *VirtualPN5180) SetSendError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sendErr = err
}

// SetReceiveError makes every subsequent Receive fail with err.
func (v *VirtualPN5180) SetReceiveError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receiveErr = err
}

// TriggerCardDetect raises the LPCD interrupt, simulating a card
// entering the field while the chip sleeps.
func (v *VirtualPN5180) TriggerCardDetect() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lpcd {
		v.regs[simRegIRQStatus] |= simIRQLPCD
		v.lpcd = false
	}
}

// InLPCD reports whether the chip is in low-power card detection mode.
func (v *VirtualPN5180) InLPCD() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lpcd
}

// RFFieldOn reports the RF field state.
func (v *VirtualPN5180) RFFieldOn() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rfOn
}

// Exchanges returns how many frames the host has sent, useful for
// asserting that an operation produced no bus traffic.
func (v *VirtualPN5180) Exchanges() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exchanges
}

// Send executes one host command frame.
func (v *VirtualPN5180) Send(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return pn5180.ErrTransportClosed
	}
	if v.sendErr != nil {
		return v.sendErr
	}
	if len(data) == 0 {
		return pn5180.NewTransportWriteError("send", "sim")
	}
	v.exchanges++
	v.dispatch(data)
	return nil
}

// Receive delivers the response produced by the last command.
func (v *VirtualPN5180) Receive(buf []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return pn5180.ErrTransportClosed
	}
	if v.receiveErr != nil {
		return v.receiveErr
	}
	if v.readout == nil {
		return pn5180.NewTransportReadError("receive", "sim")
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, v.readout)
	v.readout = nil
	return nil
}

// Reset models the RST pulse: all volatile state is lost and the chip
// boots back to idle.
func (v *VirtualPN5180) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.powerUp()
	return nil
}

// Close marks the transport as gone.
func (v *VirtualPN5180) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// SetTimeout is accepted and ignored; the simulator answers instantly.
func (*VirtualPN5180) SetTimeout(_ time.Duration) error {
	return nil
}

// IsConnected reports whether Close has been called.
func (v *VirtualPN5180) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed
}

// Type identifies the simulator as a mock transport.
func (*VirtualPN5180) Type() pn5180.TransportType {
	return pn5180.TransportMock
}

// dispatch routes one command frame. Caller holds the lock.
func (v *VirtualPN5180) dispatch(frame []byte) {
	opcode := frame[0]
	switch opcode {
	case simCmdWriteRegister:
		if len(frame) == 6 {
			v.writeRegister(frame[1], binary.LittleEndian.Uint32(frame[2:6]))
		}
	case simCmdWriteRegisterOr:
		if len(frame) == 6 {
			v.writeRegister(frame[1], v.regs[frame[1]]|binary.LittleEndian.Uint32(frame[2:6]))
		}
	case simCmdWriteRegisterAnd:
		if len(frame) == 6 {
			v.writeRegister(frame[1], v.regs[frame[1]]&binary.LittleEndian.Uint32(frame[2:6]))
		}
	case simCmdReadRegister:
		if len(frame) == 2 {
			var out [4]byte
			binary.LittleEndian.PutUint32(out[:], v.readRegister(frame[1]))
			v.readout = out[:]
		}
	case simCmdWriteEEPROM:
		if len(frame) >= 3 {
			copy(v.eeprom[frame[1]:], frame[2:])
		}
	case simCmdReadEEPROM:
		if len(frame) == 3 {
			addr, n := int(frame[1]), int(frame[2])
			out := make([]byte, n)
			copy(out, v.eeprom[addr:])
			v.readout = out
		}
	case simCmdSendData:
		if len(frame) >= 2 {
			v.handleSendData(frame[1], frame[2:])
		}
	case simCmdReadData:
		out := make([]byte, len(v.rxBuffer))
		copy(out, v.rxBuffer)
		v.readout = out
	case simCmdSwitchMode:
		if len(frame) >= 2 && frame[1] == 0x01 {
			v.lpcd = true
			v.rfOn = false
		}
	case simCmdMifareAuth:
		if len(frame) == 13 {
			v.readout = []byte{v.mifareAuth(frame[1:7], frame[7], frame[8], frame[9:13])}
		}
	case simCmdLoadRFConfig:
		if len(frame) == 3 {
			if frame[1] != 0xFF {
				v.txConfig = frame[1]
			}
			if frame[2] != 0xFF {
				v.rxConfig = frame[2]
			}
		}
	case simCmdRFOn:
		v.rfOn = true
		v.regs[simRegIRQStatus] |= simIRQTXRFOn
		v.proxState = proxIdle
		v.poll = nil
	case simCmdRFOff:
		v.rfOn = false
		v.regs[simRegIRQStatus] |= simIRQTXRFOff
		v.proxState = proxIdle
		v.poll = nil
	}
}

func (v *VirtualPN5180) writeRegister(reg byte, value uint32) {
	switch reg {
	case simRegIRQClear:
		v.regs[simRegIRQStatus] &^= value
	case simRegSystemConfig:
		v.regs[reg] = value
		// arming transceive readies the transmitter
		if value&0x07 == 0x03 {
			v.regs[simRegRFStatus] = simTSWaitTX
		} else if value&0x07 == 0 {
			v.regs[simRegRFStatus] = simTSIdle
		}
	default:
		v.regs[reg] = value
	}
}

func (v *VirtualPN5180) readRegister(reg byte) uint32 {
	return v.regs[reg]
}

// deliver places a card response into the reception buffer and raises
// the matching interrupts.
func (v *VirtualPN5180) deliver(resp []byte) {
	v.rxBuffer = resp
	v.regs[simRegRXStatus] = uint32(len(resp)) & 0x1FF
	v.regs[simRegIRQStatus] |= simIRQTX | simIRQRX | simIRQRXSOFDet
}

// deliverCollision marks the current slot as garbled by several cards
// answering at once.
func (v *VirtualPN5180) deliverCollision() {
	v.rxBuffer = nil
	v.regs[simRegRXStatus] = simRXCollision
	v.regs[simRegIRQStatus] |= simIRQTX | simIRQRXSOFDet
}

// deliverSilence leaves the field quiet for this exchange.
func (v *VirtualPN5180) deliverSilence() {
	v.rxBuffer = nil
	v.regs[simRegRXStatus] = 0
	v.regs[simRegIRQStatus] |= simIRQTX
}

// handleSendData models one RF exchange.
func (v *VirtualPN5180) handleSendData(validBits byte, payload []byte) {
	if !v.rfOn {
		v.deliverSilence()
		return
	}

	// empty frame: bare EOF closing an inventory time slot
	if len(payload) == 0 {
		if v.poll != nil {
			v.poll.slot++
			if v.poll.slot < 16 {
				v.runInventorySlot()
			} else {
				v.poll = nil
				v.deliverSilence()
			}
		} else {
			v.deliverSilence()
		}
		return
	}

	// 7-bit short frames are ISO14443-A wake-up commands
	if validBits == 7 && len(payload) == 1 {
		v.handleWakeup(payload[0])
		return
	}

	if v.rxConfig >= 0x8D {
		v.handleVicinityFrame(payload)
		return
	}
	v.handleProximityFrame(payload)
}

func (v *VirtualPN5180) mifareAuth(key []byte, keyType, blockNo byte, uid []byte) byte {
	tag := v.proximity
	if tag == nil || v.proxState < proxSelected {
		return 0x02 // no card answered in time
	}
	_ = blockNo
	if !tag.matchKey(key, keyType) || !tag.matchUID4(uid) {
		return 0x01
	}
	tag.authenticated = true
	return 0x00
}
