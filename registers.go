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

// PN5180 host interface commands from PN5180 datasheet §11.4.3.3 (Table 12)
const (
	cmdWriteRegister        = 0x00 // Write one 32-bit register value
	cmdWriteRegisterOrMask  = 0x01 // Modify register with 32-bit OR mask
	cmdWriteRegisterAndMask = 0x02 // Modify register with 32-bit AND mask
	cmdReadRegister         = 0x04 // Read one 32-bit register value
	cmdWriteEEPROM          = 0x06 // Write EEPROM from a start address
	cmdReadEEPROM           = 0x07 // Read EEPROM from a start address
	cmdSendData             = 0x09 // Write TX buffer and start RF transmission
	cmdReadData             = 0x0A // Read RX buffer after reception
	cmdSwitchMode           = 0x0B // Switch to standby, LPCD or Autocoll
	cmdMifareAuthenticate   = 0x0C // MIFARE Classic authentication
	cmdLoadRFConfig         = 0x11 // Load RF configuration from EEPROM
	cmdRFOn                 = 0x16 // Switch on the RF field
	cmdRFOff                = 0x17 // Switch off the RF field
)

// Configuration register addresses from PN5180 datasheet §11.6 (Table 31)
const (
	regSystemConfig = 0x00
	regIRQEnable    = 0x01
	regIRQStatus    = 0x02
	regIRQClear     = 0x03
	regCRCRXConfig  = 0x12
	regRXStatus     = 0x13
	regTXConfig     = 0x18
	regCRCTXConfig  = 0x19
	regRFStatus     = 0x1D
	regSystemStatus = 0x24
)

// IRQ_STATUS register bits from PN5180 datasheet §11.6.21
const (
	irqRX           uint32 = 1 << 0  // End of RF reception
	irqTX           uint32 = 1 << 1  // End of RF transmission
	irqIdle         uint32 = 1 << 2  // Command terminated, chip idle
	irqTXRFOff      uint32 = 1 << 8  // RF field switched off
	irqTXRFOn       uint32 = 1 << 9  // RF field switched on
	irqRXSOFDet     uint32 = 1 << 14 // Start of frame detected
	irqGeneralError uint32 = 1 << 17 // Exception raised by the chip
	irqLPCD         uint32 = 1 << 19 // Card detected in low-power mode
)

// irqAll covers every defined IRQ_STATUS bit; used to clear stale flags.
const irqAll uint32 = 0x000FFFFF

// SYSTEM_CONFIG.COMMAND values. The transceive command stays active until
// stopped with Idle/StopCom, so frame sends always apply both masks.
const (
	sysConfigCommandMask uint32 = 0xFFFFFFF8 // AND mask: Idle/StopCom
	sysConfigTransceive  uint32 = 0x00000003 // OR mask: Transceive
	sysConfigCryptoOff   uint32 = 0xFFFFFFBF // AND mask: disable MFC crypto
)

// RX_STATUS register fields.
const (
	rxStatusLenMask   uint32 = 0x000001FF // bits 0-8: received byte count
	rxStatusCollision uint32 = 1 << 18    // collision detected during reception
)

// txConfigEOFOnly strips the start of frame from the next transmission
// so that an empty SEND_DATA emits a bare EOF, closing an inventory
// time slot.
const txConfigEOFOnly uint32 = 0xFFFFFB3F

// TransceiveState is the TRANSCEIVE_STATE field of the RF_STATUS register
// (bits 24-26).
type TransceiveState uint8

// Transceiver sub-states from PN5180 datasheet §11.4.2.
const (
	TSIdle TransceiveState = iota
	TSWaitTransmit
	TSTransmitting
	TSWaitReceive
	TSWaitForData
	TSReceiving
	TSLoopback
	TSReserved
)

// String returns the datasheet name of the transceiver state.
func (s TransceiveState) String() string {
	switch s {
	case TSIdle:
		return "Idle"
	case TSWaitTransmit:
		return "WaitTransmit"
	case TSTransmitting:
		return "Transmitting"
	case TSWaitReceive:
		return "WaitReceive"
	case TSWaitForData:
		return "WaitForData"
	case TSReceiving:
		return "Receiving"
	case TSLoopback:
		return "Loopback"
	default:
		return "Reserved"
	}
}

// EEPROM addresses from PN5180 datasheet §11.8.
const (
	eepromDieIdentifier   = 0x00
	eepromProductVersion  = 0x10
	eepromFirmwareVersion = 0x12
	eepromEEPROMVersion   = 0x14
	eepromIRQPinConfig    = 0x1A

	// LPCD configuration area
	eepromLPCDFieldOnTime      = 0x36
	eepromLPCDThreshold        = 0x37
	eepromLPCDRefvalGPOControl = 0x38
	eepromLPCDGPOToggleBefore  = 0x39
	eepromLPCDGPOToggleAfter   = 0x3A
)

// SWITCH_MODE operating modes.
const (
	modeStandby  byte = 0x00
	modeLPCD     byte = 0x01
	modeAutocoll byte = 0x02
)

// MIFARE Classic key selectors for MIFARE_AUTHENTICATE.
const (
	MifareKeyA byte = 0x60
	MifareKeyB byte = 0x61
)

// eepromMaxAddr is the last valid EEPROM address; reads and writes must
// not cross it.
const eepromMaxAddr = 254

// Command and response buffer limits from PN5180 datasheet §11.4.3.3.
const (
	// maxSendLen is the largest SEND_DATA payload.
	maxSendLen = 260
	// maxReadLen is the largest READ_DATA response.
	maxReadLen = 508
	// smallReadLen sizes the scratch buffer for register and status
	// reads, kept separate from the data buffer so register polls do
	// not clobber response views held by the caller.
	smallReadLen = 16
)

// lpcdMaxWakeupMs is the largest wake-up counter accepted by SWITCH_MODE
// in LPCD mode (0x0A82 ≈ 2960 ms).
const lpcdMaxWakeupMs = 0x0A82

// RF configuration profile bytes for LOAD_RF_CONFIG. 0xFF leaves the
// corresponding side unchanged.
const (
	// RFConfigUnchanged keeps the current transmitter or receiver profile.
	RFConfigUnchanged byte = 0xFF

	rfTxISO14443 byte = 0x00 // ISO14443-A 106 kbit/s
	rfRxISO14443 byte = 0x80
	rfTxISO15693 byte = 0x0D // ISO15693 ASK100 26 kbit/s
	rfRxISO15693 byte = 0x8D

	// Valid profile ranges. Transmitter profiles occupy 0x00-0x1C,
	// receiver profiles 0x80-0x9D.
	rfTxConfMax byte = 0x1C
	rfRxConfMin byte = 0x80
	rfRxConfMax byte = 0x9D
)
