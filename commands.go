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

package pn5180

import (
	"context"
	"encoding/binary"
	"fmt"
)

// sendFrame delivers one command frame to the chip, recording it in the
// wire trace when tracing is enabled.
func (d *Device) sendFrame(ctx context.Context, frame []byte, note string) error {
	if d.trace != nil {
		d.trace.RecordTX(frame, note)
	}
	if err := sendContext(ctx, d.transport, frame); err != nil {
		return d.wrapError(fmt.Errorf("%s: %w", note, err))
	}
	return nil
}

// readFrame collects len(buf) response bytes from the chip.
func (d *Device) readFrame(ctx context.Context, buf []byte, note string) error {
	if err := receiveContext(ctx, d.transport, buf); err != nil {
		if d.trace != nil {
			d.trace.RecordTimeout(note)
		}
		return d.wrapError(fmt.Errorf("%s: %w", note, err))
	}
	if d.trace != nil {
		d.trace.RecordRX(buf, note)
	}
	return nil
}

// writeRegisterFrame issues one of the three register write opcodes
// with a 32-bit little-endian operand.
func (d *Device) writeRegisterFrame(ctx context.Context, opcode, reg byte, value uint32) error {
	frame := d.cmdBuf[:6]
	frame[0] = opcode
	frame[1] = reg
	binary.LittleEndian.PutUint32(frame[2:6], value)
	return d.sendFrame(ctx, frame, fmt.Sprintf("write register %#02x", reg))
}

// WriteRegister replaces the full 32-bit contents of a register.
func (d *Device) WriteRegister(reg byte, value uint32) error {
	return d.WriteRegisterContext(context.Background(), reg, value)
}

// WriteRegisterContext is like WriteRegister but honors context
// cancellation.
func (d *Device) WriteRegisterContext(ctx context.Context, reg byte, value uint32) error {
	return d.writeRegisterFrame(ctx, cmdWriteRegister, reg, value)
}

// WriteRegisterOrMask sets the bits of mask in a register, leaving the
// rest untouched.
func (d *Device) WriteRegisterOrMask(reg byte, mask uint32) error {
	return d.WriteRegisterOrMaskContext(context.Background(), reg, mask)
}

// WriteRegisterOrMaskContext is like WriteRegisterOrMask but honors
// context cancellation.
func (d *Device) WriteRegisterOrMaskContext(ctx context.Context, reg byte, mask uint32) error {
	return d.writeRegisterFrame(ctx, cmdWriteRegisterOrMask, reg, mask)
}

// WriteRegisterAndMask clears the bits absent from mask in a register.
func (d *Device) WriteRegisterAndMask(reg byte, mask uint32) error {
	return d.WriteRegisterAndMaskContext(context.Background(), reg, mask)
}

// WriteRegisterAndMaskContext is like WriteRegisterAndMask but honors
// context cancellation.
func (d *Device) WriteRegisterAndMaskContext(ctx context.Context, reg byte, mask uint32) error {
	return d.writeRegisterFrame(ctx, cmdWriteRegisterAndMask, reg, mask)
}

// ReadRegister returns the 32-bit contents of a register.
func (d *Device) ReadRegister(reg byte) (uint32, error) {
	return d.ReadRegisterContext(context.Background(), reg)
}

// ReadRegisterContext is like ReadRegister but honors context
// cancellation.
func (d *Device) ReadRegisterContext(ctx context.Context, reg byte) (uint32, error) {
	frame := d.cmdBuf[:2]
	frame[0] = cmdReadRegister
	frame[1] = reg
	note := fmt.Sprintf("read register %#02x", reg)
	if err := d.sendFrame(ctx, frame, note); err != nil {
		return 0, err
	}
	buf := d.rxSmall[:4]
	if err := d.readFrame(ctx, buf, note); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteEEPROM stores data into configuration EEPROM starting at addr.
// The addressed range must stay inside 0..254.
func (d *Device) WriteEEPROM(addr byte, data []byte) error {
	return d.WriteEEPROMContext(context.Background(), addr, data)
}

// WriteEEPROMContext is like WriteEEPROM but honors context
// cancellation.
func (d *Device) WriteEEPROMContext(ctx context.Context, addr byte, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty EEPROM write", ErrInvalidParameter)
	}
	if int(addr)+len(data)-1 > eepromMaxAddr {
		return fmt.Errorf("%w: EEPROM write %d bytes at %#02x exceeds address %#02x",
			ErrInvalidParameter, len(data), addr, eepromMaxAddr)
	}
	frame := d.cmdBuf[:2+len(data)]
	frame[0] = cmdWriteEEPROM
	frame[1] = addr
	copy(frame[2:], data)
	return d.sendFrame(ctx, frame, fmt.Sprintf("write eeprom %#02x", addr))
}

// ReadEEPROM reads length bytes of configuration EEPROM starting at
// addr. The returned slice is valid until the next command.
func (d *Device) ReadEEPROM(addr byte, length int) ([]byte, error) {
	return d.ReadEEPROMContext(context.Background(), addr, length)
}

// ReadEEPROMContext is like ReadEEPROM but honors context cancellation.
func (d *Device) ReadEEPROMContext(ctx context.Context, addr byte, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: EEPROM read length %d", ErrInvalidParameter, length)
	}
	if int(addr)+length-1 > eepromMaxAddr {
		return nil, fmt.Errorf("%w: EEPROM read %d bytes at %#02x exceeds address %#02x",
			ErrInvalidParameter, length, addr, eepromMaxAddr)
	}
	frame := d.cmdBuf[:3]
	frame[0] = cmdReadEEPROM
	frame[1] = addr
	frame[2] = byte(length)
	note := fmt.Sprintf("read eeprom %#02x", addr)
	if err := d.sendFrame(ctx, frame, note); err != nil {
		return nil, err
	}
	buf := d.rxBuf[:length]
	if err := d.readFrame(ctx, buf, note); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendData transmits a card frame over the RF field. validBits gives
// the number of valid bits in the last byte, 0 meaning all eight. The
// transceiver is forced through Idle into Transceive first; the call
// fails with ErrInvalidState when the chip does not reach WaitTransmit.
func (d *Device) SendData(data []byte, validBits byte) error {
	return d.SendDataContext(context.Background(), data, validBits)
}

// SendDataContext is like SendData but honors context cancellation.
func (d *Device) SendDataContext(ctx context.Context, data []byte, validBits byte) error {
	if len(data) > maxSendLen {
		return d.wrapError(fmt.Errorf("%w: %d bytes exceeds send limit %d",
			ErrDataTooLarge, len(data), maxSendLen))
	}
	if validBits > 7 {
		return fmt.Errorf("%w: valid bits %d out of range", ErrInvalidParameter, validBits)
	}

	// Idle/StopCom first, then Transceive. Writing Transceive while a
	// previous exchange is still active leaves the state machine stuck.
	if err := d.WriteRegisterAndMaskContext(ctx, regSystemConfig, sysConfigCommandMask); err != nil {
		return err
	}
	if err := d.WriteRegisterOrMaskContext(ctx, regSystemConfig, sysConfigTransceive); err != nil {
		return err
	}

	state, err := d.TransceiveStateContext(ctx)
	if err != nil {
		return err
	}
	if state != TSWaitTransmit {
		return d.wrapError(fmt.Errorf("%w: transceiver in %s, want %s",
			ErrInvalidState, state, TSWaitTransmit))
	}

	frame := d.cmdBuf[:2+len(data)]
	frame[0] = cmdSendData
	frame[1] = validBits
	copy(frame[2:], data)
	return d.sendFrame(ctx, frame, "send data")
}

// ReadData fetches length bytes from the reception buffer. The
// returned slice points into a scratch buffer owned by the Device and
// is valid only until the next command.
func (d *Device) ReadData(length int) ([]byte, error) {
	return d.ReadDataContext(context.Background(), length)
}

// ReadDataContext is like ReadData but honors context cancellation.
func (d *Device) ReadDataContext(ctx context.Context, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: read length %d", ErrInvalidParameter, length)
	}
	if length > maxReadLen {
		return nil, d.wrapError(fmt.Errorf("%w: %d bytes exceeds receive limit %d",
			ErrDataTooLarge, length, maxReadLen))
	}
	frame := d.cmdBuf[:2]
	frame[0] = cmdReadData
	frame[1] = 0x00
	if err := d.sendFrame(ctx, frame, "read data"); err != nil {
		return nil, err
	}
	buf := d.rxBuf[:length]
	if err := d.readFrame(ctx, buf, "read data"); err != nil {
		return nil, err
	}
	return buf, nil
}

// SwitchToLPCD puts the chip into low-power card detection mode. The
// chip wakes every wakeupCounterMs milliseconds (at most 2960) to probe
// for a card; a detection raises the LPCD interrupt. The host interface
// is unavailable until wakeup.
func (d *Device) SwitchToLPCD(wakeupCounterMs uint16) error {
	return d.SwitchToLPCDContext(context.Background(), wakeupCounterMs)
}

// SwitchToLPCDContext is like SwitchToLPCD but honors context
// cancellation.
func (d *Device) SwitchToLPCDContext(ctx context.Context, wakeupCounterMs uint16) error {
	if wakeupCounterMs > lpcdMaxWakeupMs {
		wakeupCounterMs = lpcdMaxWakeupMs
	}
	if err := d.ClearIRQStatusContext(ctx, irqAll); err != nil {
		return err
	}
	// Only the LPCD result and error conditions may wake the host.
	if err := d.WriteRegisterContext(ctx, regIRQEnable, irqLPCD|irqGeneralError); err != nil {
		return err
	}
	frame := d.cmdBuf[:4]
	frame[0] = cmdSwitchMode
	frame[1] = modeLPCD
	binary.LittleEndian.PutUint16(frame[2:4], wakeupCounterMs)
	return d.sendFrame(ctx, frame, "switch to lpcd")
}

// MifareAuthenticate runs the chip's MIFARE Classic authentication for
// one block. key is the 6-byte sector key, keyType selects key A (0x60)
// or key B (0x61) and uid is the 4-byte card identifier.
func (d *Device) MifareAuthenticate(key []byte, keyType, blockNo byte, uid []byte) error {
	return d.MifareAuthenticateContext(context.Background(), key, keyType, blockNo, uid)
}

// MifareAuthenticateContext is like MifareAuthenticate but honors
// context cancellation.
func (d *Device) MifareAuthenticateContext(ctx context.Context, key []byte, keyType, blockNo byte, uid []byte) error {
	if len(key) != 6 {
		return fmt.Errorf("%w: key must be 6 bytes, got %d", ErrInvalidParameter, len(key))
	}
	if keyType != MifareKeyA && keyType != MifareKeyB {
		return fmt.Errorf("%w: key type %#02x", ErrInvalidParameter, keyType)
	}
	if len(uid) != 4 {
		return fmt.Errorf("%w: uid must be 4 bytes, got %d", ErrInvalidParameter, len(uid))
	}

	frame := d.cmdBuf[:13]
	frame[0] = cmdMifareAuthenticate
	copy(frame[1:7], key)
	frame[7] = keyType
	frame[8] = blockNo
	copy(frame[9:13], uid)
	if err := d.sendFrame(ctx, frame, "mifare authenticate"); err != nil {
		return err
	}

	status := d.rxSmall[:1]
	if err := d.readFrame(ctx, status, "mifare authenticate"); err != nil {
		return err
	}
	switch status[0] {
	case 0x00:
		return nil
	case 0x02:
		return d.wrapError(fmt.Errorf("mifare authenticate: %w", ErrTransportTimeout))
	default:
		return d.wrapError(fmt.Errorf("mifare authenticate: %w: status %#02x",
			ErrCommandFailed, status[0]))
	}
}

// LoadRFConfig loads the transmitter and receiver baseband settings for
// a protocol. Passing RFConfigUnchanged (0xFF) leaves that side as is.
func (d *Device) LoadRFConfig(txConf, rxConf byte) error {
	return d.LoadRFConfigContext(context.Background(), txConf, rxConf)
}

// LoadRFConfigContext is like LoadRFConfig but honors context
// cancellation.
func (d *Device) LoadRFConfigContext(ctx context.Context, txConf, rxConf byte) error {
	if txConf != RFConfigUnchanged && txConf > rfTxConfMax {
		return fmt.Errorf("%w: tx rf config %#02x", ErrInvalidParameter, txConf)
	}
	if rxConf != RFConfigUnchanged && (rxConf < rfRxConfMin || rxConf > rfRxConfMax) {
		return fmt.Errorf("%w: rx rf config %#02x", ErrInvalidParameter, rxConf)
	}
	frame := d.cmdBuf[:3]
	frame[0] = cmdLoadRFConfig
	frame[1] = txConf
	frame[2] = rxConf
	return d.sendFrame(ctx, frame, "load rf config")
}

// RFOn switches the RF field on and waits for the chip to confirm the
// field is up.
func (d *Device) RFOn() error {
	return d.RFOnContext(context.Background())
}

// RFOnContext is like RFOn but honors context cancellation.
func (d *Device) RFOnContext(ctx context.Context) error {
	frame := d.cmdBuf[:2]
	frame[0] = cmdRFOn
	frame[1] = 0x00
	if err := d.sendFrame(ctx, frame, "rf on"); err != nil {
		return err
	}
	if _, err := d.waitForIRQ(ctx, irqTXRFOn); err != nil {
		return d.wrapError(fmt.Errorf("rf field did not come up: %w", err))
	}
	return d.ClearIRQStatusContext(ctx, irqTXRFOn)
}

// RFOff switches the RF field off and waits for confirmation.
func (d *Device) RFOff() error {
	return d.RFOffContext(context.Background())
}

// RFOffContext is like RFOff but honors context cancellation.
func (d *Device) RFOffContext(ctx context.Context) error {
	frame := d.cmdBuf[:2]
	frame[0] = cmdRFOff
	frame[1] = 0x00
	if err := d.sendFrame(ctx, frame, "rf off"); err != nil {
		return err
	}
	if _, err := d.waitForIRQ(ctx, irqTXRFOff); err != nil {
		return d.wrapError(fmt.Errorf("rf field did not shut down: %w", err))
	}
	return d.ClearIRQStatusContext(ctx, irqTXRFOff)
}

// GetIRQStatus returns the pending interrupt flags.
func (d *Device) GetIRQStatus() (uint32, error) {
	return d.GetIRQStatusContext(context.Background())
}

// GetIRQStatusContext is like GetIRQStatus but honors context
// cancellation.
func (d *Device) GetIRQStatusContext(ctx context.Context) (uint32, error) {
	return d.ReadRegisterContext(ctx, regIRQStatus)
}

// ClearIRQStatus acknowledges the interrupt flags in mask.
func (d *Device) ClearIRQStatus(mask uint32) error {
	return d.ClearIRQStatusContext(context.Background(), mask)
}

// ClearIRQStatusContext is like ClearIRQStatus but honors context
// cancellation.
func (d *Device) ClearIRQStatusContext(ctx context.Context, mask uint32) error {
	return d.WriteRegisterContext(ctx, regIRQClear, mask&irqAll)
}

// TransceiveState reports the transceiver state machine position.
func (d *Device) TransceiveState() (TransceiveState, error) {
	return d.TransceiveStateContext(context.Background())
}

// TransceiveStateContext is like TransceiveState but honors context
// cancellation.
func (d *Device) TransceiveStateContext(ctx context.Context) (TransceiveState, error) {
	rfStatus, err := d.ReadRegisterContext(ctx, regRFStatus)
	if err != nil {
		return TSIdle, err
	}
	return TransceiveState((rfStatus >> 24) & 0x07), nil
}

// rxBytesReceived returns the number of bytes waiting in the reception
// buffer after a card response.
func (d *Device) rxBytesReceived(ctx context.Context) (int, error) {
	rxStatus, err := d.ReadRegisterContext(ctx, regRXStatus)
	if err != nil {
		return 0, err
	}
	return int(rxStatus & rxStatusLenMask), nil
}
