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
	"fmt"
	"time"
)

// ISO14443-A frame bytes
const (
	iso14443REQA byte = 0x26
	iso14443WUPA byte = 0x52

	iso14443CascadeTag byte = 0x88

	iso14443SelCascade1 byte = 0x93
	iso14443SelCascade2 byte = 0x95
	iso14443Anticoll    byte = 0x20
	iso14443Select      byte = 0x70

	mifareCmdRead    byte = 0x30
	mifareCmdWrite   byte = 0xA0
	mifareCmdHalt    byte = 0x50
	mifareAck        byte = 0x0A
	sakCascadeNeeded byte = 0x04
)

// CRC_RX_CONFIG / CRC_TX_CONFIG bit 0 enables CRC handling.
const (
	crcEnableMask  uint32 = 0x00000001
	crcDisableMask uint32 = 0xFFFFFFFE
)

// PollKind selects the wake-up command used when probing for a card.
type PollKind byte

const (
	// PollREQA wakes only cards not yet halted.
	PollREQA PollKind = iota
	// PollWUPA also wakes halted cards.
	PollWUPA
)

// ProximityCard is the outcome of an ISO14443-A activation.
type ProximityCard struct {
	UID  []byte // 4 or 7 bytes
	ATQA [2]byte
	SAK  byte
}

// ISO14443 drives proximity cards, including the MIFARE Classic data
// exchange commands. Obtain one with Device.ISO14443; it shares the
// device's session buffers and is not safe for concurrent use.
type ISO14443 struct {
	d *Device
}

// ISO14443 returns the proximity-card protocol layer.
func (d *Device) ISO14443() *ISO14443 {
	return &ISO14443{d: d}
}

// SetupRF loads the ISO14443-A RF profiles and switches the field on.
func (p *ISO14443) SetupRF() error {
	return p.SetupRFContext(context.Background())
}

// SetupRFContext is like SetupRF but honors context cancellation.
func (p *ISO14443) SetupRFContext(ctx context.Context) error {
	if err := p.d.LoadRFConfigContext(ctx, rfTxISO14443, rfRxISO14443); err != nil {
		return err
	}
	return p.d.RFOnContext(ctx)
}

// ActivateTypeA runs the full type A activation: wake-up, anticollision
// and select, cascading to a second level for 7-byte UIDs. A silent
// field returns ErrNoCard.
func (p *ISO14443) ActivateTypeA(kind PollKind) (*ProximityCard, error) {
	return p.ActivateTypeAContext(context.Background(), kind)
}

// ActivateTypeAContext is like ActivateTypeA but honors context
// cancellation.
func (p *ISO14443) ActivateTypeAContext(ctx context.Context, kind PollKind) (*ProximityCard, error) {
	d := p.d

	if err := d.LoadRFConfigContext(ctx, rfTxISO14443, rfRxISO14443); err != nil {
		return nil, err
	}
	if err := d.RFOnContext(ctx); err != nil {
		return nil, err
	}
	// let the field ramp up
	if err := sleepContext(ctx, 10*time.Millisecond); err != nil {
		return nil, err
	}

	// MIFARE crypto off, CRC off for the short wake-up frames
	if err := d.WriteRegisterAndMaskContext(ctx, regSystemConfig, sysConfigCryptoOff); err != nil {
		return nil, err
	}
	if err := d.WriteRegisterAndMaskContext(ctx, regCRCRXConfig, crcDisableMask); err != nil {
		return nil, err
	}
	if err := d.WriteRegisterAndMaskContext(ctx, regCRCTXConfig, crcDisableMask); err != nil {
		return nil, err
	}
	if err := d.ClearIRQStatusContext(ctx, irqAll); err != nil {
		return nil, err
	}

	// REQA/WUPA are 7-bit frames
	wake := iso14443REQA
	if kind == PollWUPA {
		wake = iso14443WUPA
	}
	if err := d.SendDataContext(ctx, []byte{wake}, 7); err != nil {
		return nil, err
	}
	if err := sleepContext(ctx, 10*time.Millisecond); err != nil {
		return nil, err
	}

	card := &ProximityCard{}
	n, err := d.rxBytesReceived(ctx)
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, d.wrapError(fmt.Errorf("activate: no ATQA: %w", ErrNoCard))
	}
	atqa, err := d.ReadDataContext(ctx, 2)
	if err != nil {
		return nil, err
	}
	copy(card.ATQA[:], atqa)

	if err := p.waitWaitTransmit(ctx); err != nil {
		return nil, err
	}
	if err := d.ClearIRQStatusContext(ctx, irqAll); err != nil {
		return nil, err
	}

	// cascade level 1
	anticoll1, sak, err := p.cascade(ctx, iso14443SelCascade1)
	if err != nil {
		return nil, err
	}
	card.SAK = sak

	if sak&sakCascadeNeeded == 0 {
		card.UID = anticoll1[:4]
		return card, nil
	}

	// 7-byte UID: the first anticollision byte must be the cascade tag
	if anticoll1[0] != iso14443CascadeTag {
		return nil, d.wrapError(fmt.Errorf("activate: cascade expected, got %#02x: %w",
			anticoll1[0], ErrInvalidResponse))
	}

	if err := d.WriteRegisterAndMaskContext(ctx, regCRCRXConfig, crcDisableMask); err != nil {
		return nil, err
	}
	if err := d.WriteRegisterAndMaskContext(ctx, regCRCTXConfig, crcDisableMask); err != nil {
		return nil, err
	}

	anticoll2, sak, err := p.cascade(ctx, iso14443SelCascade2)
	if err != nil {
		return nil, err
	}
	card.SAK = sak
	uid := make([]byte, 0, 7)
	uid = append(uid, anticoll1[1:4]...)
	uid = append(uid, anticoll2[:4]...)
	card.UID = uid
	return card, nil
}

// cascade runs one anticollision round followed by select, returning
// the five anticollision bytes and the SAK.
func (p *ISO14443) cascade(ctx context.Context, level byte) ([5]byte, byte, error) {
	d := p.d
	var anticoll [5]byte

	if err := d.SendDataContext(ctx, []byte{level, iso14443Anticoll}, 0); err != nil {
		return anticoll, 0, err
	}
	if err := sleepContext(ctx, 5*time.Millisecond); err != nil {
		return anticoll, 0, err
	}
	n, err := d.rxBytesReceived(ctx)
	if err != nil {
		return anticoll, 0, err
	}
	if n != 5 {
		return anticoll, 0, d.wrapError(fmt.Errorf("anticollision: %d response bytes, want 5: %w",
			n, ErrCommandFailed))
	}
	resp, err := d.ReadDataContext(ctx, 5)
	if err != nil {
		return anticoll, 0, err
	}
	copy(anticoll[:], resp)

	// select runs with CRC
	if err := d.WriteRegisterOrMaskContext(ctx, regCRCRXConfig, crcEnableMask); err != nil {
		return anticoll, 0, err
	}
	if err := d.WriteRegisterOrMaskContext(ctx, regCRCTXConfig, crcEnableMask); err != nil {
		return anticoll, 0, err
	}

	sel := make([]byte, 0, 7)
	sel = append(sel, level, iso14443Select)
	sel = append(sel, anticoll[:]...)
	if err := d.SendDataContext(ctx, sel, 0); err != nil {
		return anticoll, 0, err
	}
	sakBuf, err := d.ReadDataContext(ctx, 1)
	if err != nil {
		return anticoll, 0, err
	}
	return anticoll, sakBuf[0], nil
}

// waitWaitTransmit polls the transceiver until it is ready for the next
// frame, at most 200ms.
func (p *ISO14443) waitWaitTransmit(ctx context.Context) error {
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		state, err := p.d.TransceiveStateContext(ctx)
		if err != nil {
			return err
		}
		if state == TSWaitTransmit {
			return nil
		}
		if time.Now().After(deadline) {
			return p.d.wrapError(fmt.Errorf("transceiver stuck in %s: %w",
				state, ErrInvalidState))
		}
		if err := sleepContext(ctx, time.Millisecond); err != nil {
			return err
		}
	}
}

// MifareBlockRead reads one 16-byte MIFARE Classic block. The sector
// must have been authenticated first.
func (p *ISO14443) MifareBlockRead(blockNo byte) ([]byte, error) {
	return p.MifareBlockReadContext(context.Background(), blockNo)
}

// MifareBlockReadContext is like MifareBlockRead but honors context
// cancellation.
func (p *ISO14443) MifareBlockReadContext(ctx context.Context, blockNo byte) ([]byte, error) {
	d := p.d
	if err := d.SendDataContext(ctx, []byte{mifareCmdRead, blockNo}, 0); err != nil {
		return nil, err
	}
	if err := sleepContext(ctx, 5*time.Millisecond); err != nil {
		return nil, err
	}
	n, err := d.rxBytesReceived(ctx)
	if err != nil {
		return nil, err
	}
	if n != 16 {
		return nil, d.wrapError(fmt.Errorf("mifare read block %d: %d response bytes: %w",
			blockNo, n, ErrCommandFailed))
	}
	resp, err := d.ReadDataContext(ctx, 16)
	if err != nil {
		return nil, err
	}
	block := make([]byte, 16)
	copy(block, resp)
	return block, nil
}

// MifareBlockWrite16 writes one 16-byte MIFARE Classic block using the
// two-step write. The returned status byte is the card's final ACK/NAK.
func (p *ISO14443) MifareBlockWrite16(blockNo byte, data []byte) (byte, error) {
	return p.MifareBlockWrite16Context(context.Background(), blockNo, data)
}

// MifareBlockWrite16Context is like MifareBlockWrite16 but honors
// context cancellation.
func (p *ISO14443) MifareBlockWrite16Context(ctx context.Context, blockNo byte, data []byte) (byte, error) {
	if len(data) != 16 {
		return 0, fmt.Errorf("%w: block data must be 16 bytes, got %d", ErrInvalidParameter, len(data))
	}
	d := p.d

	// The card answers each write step with a 4-bit ACK, no CRC.
	if err := d.WriteRegisterAndMaskContext(ctx, regCRCRXConfig, crcDisableMask); err != nil {
		return 0, err
	}

	if err := d.SendDataContext(ctx, []byte{mifareCmdWrite, blockNo}, 0); err != nil {
		return 0, err
	}
	if _, err := d.ReadDataContext(ctx, 1); err != nil {
		return 0, err
	}

	if err := d.SendDataContext(ctx, data, 0); err != nil {
		return 0, err
	}
	if err := sleepContext(ctx, 10*time.Millisecond); err != nil {
		return 0, err
	}
	ack, err := d.ReadDataContext(ctx, 1)
	if err != nil {
		return 0, err
	}
	status := ack[0]

	if err := d.WriteRegisterOrMaskContext(ctx, regCRCRXConfig, crcEnableMask); err != nil {
		return status, err
	}
	if status&0x0F != mifareAck {
		return status, d.wrapError(fmt.Errorf("mifare write block %d: NAK %#02x: %w",
			blockNo, status, ErrCommandFailed))
	}
	return status, nil
}

// MifareHalt silences the active card until the next WUPA.
func (p *ISO14443) MifareHalt() error {
	return p.MifareHaltContext(context.Background())
}

// MifareHaltContext is like MifareHalt but honors context cancellation.
func (p *ISO14443) MifareHaltContext(ctx context.Context) error {
	return p.d.SendDataContext(ctx, []byte{mifareCmdHalt, 0x00}, 0)
}

// ReadCardSerial activates a card and returns its UID after weeding out
// the junk patterns clone cards and noise produce. No usable card maps
// to ErrNoCard.
func (p *ISO14443) ReadCardSerial() ([]byte, error) {
	return p.ReadCardSerialContext(context.Background())
}

// ReadCardSerialContext is like ReadCardSerial but honors context
// cancellation.
func (p *ISO14443) ReadCardSerialContext(ctx context.Context) ([]byte, error) {
	card, err := p.ActivateTypeAContext(ctx, PollREQA)
	if err != nil {
		return nil, err
	}
	if !validProximityUID(card) {
		return nil, p.d.wrapError(fmt.Errorf("activation produced junk uid: %w", ErrNoCard))
	}
	return card.UID, nil
}

// validProximityUID rejects UIDs that cannot belong to a real card.
func validProximityUID(card *ProximityCard) bool {
	uid := card.UID
	if len(uid) < 4 {
		return false
	}
	if card.ATQA[0] == 0xFF && card.ATQA[1] == 0xFF {
		return false
	}
	if uid[0] == 0x00 || uid[0] == 0xFF {
		return false
	}
	allJunk := true
	for _, b := range uid[1:] {
		if b != 0x00 && b != 0xFF {
			allJunk = false
			break
		}
	}
	if allJunk {
		return false
	}
	switch len(uid) {
	case 4:
		if uid[0] == iso14443CascadeTag {
			return false
		}
	case 7:
		if uid[3] == iso14443CascadeTag {
			return false
		}
		tail := uid[3:]
		if tail[0] == 0x00 && tail[1] == 0x00 && tail[2] == 0x00 && tail[3] == 0x00 {
			return false
		}
		if tail[0] == 0xFF && tail[1] == 0xFF && tail[2] == 0xFF && tail[3] == 0xFF {
			return false
		}
	}
	return true
}

// IsCardPresent reports whether a proximity card is currently in the
// field.
func (p *ISO14443) IsCardPresent() bool {
	return p.IsCardPresentContext(context.Background())
}

// IsCardPresentContext is like IsCardPresent but honors context
// cancellation.
func (p *ISO14443) IsCardPresentContext(ctx context.Context) bool {
	uid, err := p.ReadCardSerialContext(ctx)
	return err == nil && len(uid) >= 4
}
