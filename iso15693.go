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
	"strings"
	"time"
)

// ISO15693 request flags
const (
	iso15693FlagDataRate  byte = 0x02 // high data rate
	iso15693FlagInventory byte = 0x04
	iso15693FlagNbSlots1  byte = 0x20 // one time slot instead of 16
	iso15693FlagAddressed byte = 0x20 // UID field present (non-inventory)
)

// ISO15693 command codes
const (
	iso15693CmdInventory          byte = 0x01
	iso15693CmdReadSingleBlock    byte = 0x20
	iso15693CmdWriteSingleBlock   byte = 0x21
	iso15693CmdReadMultipleBlocks byte = 0x23
	iso15693CmdGetSystemInfo      byte = 0x2B
)

// iso15693RespFlagError marks an error response; the next byte carries
// the card's error code.
const iso15693RespFlagError byte = 1 << 0

// iso15693ResponseWait is the settle time between a frame send and the
// first IRQ probe for the card's answer.
const iso15693ResponseWait = 10 * time.Millisecond

// collisionMaskNibbles bounds the inventory collision mask. Each level
// of collision resolution appends one slot nibble; UIDs that still
// collide past four nibbles cannot be separated and their branch is
// dropped.
const collisionMaskNibbles = 4

// UID is an ISO15693 unique identifier as it travels on the wire, least
// significant byte first.
type UID [8]byte

// String formats the UID the way it is printed on card labels, most
// significant byte first.
func (u UID) String() string {
	var sb strings.Builder
	for i := len(u) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02X", u[i])
		if i > 0 {
			sb.WriteByte(':')
		}
	}
	return sb.String()
}

// IsZero reports whether the UID is all zeroes.
func (u UID) IsZero() bool {
	return u == UID{}
}

// VicinityCard describes an ISO15693 card as reported by its system
// information.
type VicinityCard struct {
	UID       UID
	DSFID     byte
	AFI       byte
	ICRef     byte
	BlockSize int // bytes per block, 1-32
	NumBlocks int // 1-256
	HasDSFID  bool
	HasAFI    bool
	HasICRef  bool
}

// ISO15693 drives vicinity cards through the chip's RF front-end.
// Obtain one with Device.ISO15693; it shares the device's session
// buffers and is not safe for concurrent use.
type ISO15693 struct {
	d *Device
}

// ISO15693 returns the vicinity-card protocol layer.
func (d *Device) ISO15693() *ISO15693 {
	return &ISO15693{d: d}
}

// SetupRF loads the ISO15693 RF profiles, switches the field on and
// arms the transceiver.
func (p *ISO15693) SetupRF() error {
	return p.SetupRFContext(context.Background())
}

// SetupRFContext is like SetupRF but honors context cancellation.
func (p *ISO15693) SetupRFContext(ctx context.Context) error {
	if err := p.d.LoadRFConfigContext(ctx, rfTxISO15693, rfRxISO15693); err != nil {
		return err
	}
	if err := p.d.RFOnContext(ctx); err != nil {
		return err
	}
	if err := p.d.WriteRegisterAndMaskContext(ctx, regSystemConfig, sysConfigCommandMask); err != nil {
		return err
	}
	return p.d.WriteRegisterOrMaskContext(ctx, regSystemConfig, sysConfigTransceive)
}

// transceive sends one ISO15693 frame and collects the card's answer.
// The returned slice points into the device's session buffer and is
// valid until the next data command. Card-side error responses come
// back as *ISO15693Error; a silent field maps to ErrNoCard.
func (p *ISO15693) transceive(ctx context.Context, name string, cmd []byte) ([]byte, error) {
	d := p.d
	if err := d.SendDataContext(ctx, cmd, 0); err != nil {
		return nil, err
	}
	if err := sleepContext(ctx, iso15693ResponseWait); err != nil {
		return nil, err
	}

	irq, err := d.GetIRQStatusContext(ctx)
	if err != nil {
		return nil, err
	}
	if irq&irqRXSOFDet == 0 {
		return nil, d.wrapError(fmt.Errorf("%s: %w", name, ErrNoCard))
	}
	if irq&irqRX == 0 {
		if _, err := d.waitForIRQ(ctx, irqRX); err != nil {
			return nil, d.wrapError(fmt.Errorf("%s: response never completed: %w", name, ErrNoCard))
		}
	}

	length, err := d.rxBytesReceived(ctx)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, d.wrapError(fmt.Errorf("%s: empty response: %w", name, ErrNoCard))
	}
	resp, err := d.ReadDataContext(ctx, length)
	if err != nil {
		return nil, err
	}

	irq, err = d.GetIRQStatusContext(ctx)
	if err != nil {
		return nil, err
	}
	if irq&irqRXSOFDet == 0 {
		_ = d.ClearIRQStatusContext(ctx, irqTX|irqIdle)
		return nil, d.wrapError(fmt.Errorf("%s: frame vanished: %w", name, ErrNoCard))
	}

	if err := d.ClearIRQStatusContext(ctx, irqRXSOFDet|irqIdle|irqTX|irqRX); err != nil {
		return nil, err
	}

	if resp[0]&iso15693RespFlagError != 0 {
		if length < 2 {
			return nil, d.wrapError(fmt.Errorf("%s: error response without code: %w",
				name, ErrInvalidResponse))
		}
		return nil, d.wrapError(NewISO15693Error(resp[1], name))
	}
	return resp, nil
}

// addressedFrame assembles flags, command, the 8-byte UID and trailing
// parameters into the device's scratch space.
func addressedFrame(buf []byte, cmd byte, uid UID, params ...byte) []byte {
	frame := buf[:0]
	frame = append(frame, iso15693FlagDataRate|iso15693FlagAddressed, cmd)
	frame = append(frame, uid[:]...)
	frame = append(frame, params...)
	return frame
}

// Inventory finds a single card using a one-slot inventory request.
func (p *ISO15693) Inventory() (UID, error) {
	return p.InventoryContext(context.Background())
}

// InventoryContext is like Inventory but honors context cancellation.
func (p *ISO15693) InventoryContext(ctx context.Context) (UID, error) {
	cmd := []byte{
		iso15693FlagDataRate | iso15693FlagInventory | iso15693FlagNbSlots1,
		iso15693CmdInventory,
		0x00, // no mask
	}
	resp, err := p.transceive(ctx, "inventory", cmd)
	if err != nil {
		return UID{}, err
	}
	// Response: flags, DSFID, UID
	if len(resp) < 10 {
		return UID{}, p.d.wrapError(fmt.Errorf("inventory: response length %d: %w",
			len(resp), ErrInvalidResponse))
	}
	var uid UID
	copy(uid[:], resp[2:10])
	return uid, nil
}

// InventoryMultiple finds up to maxTags cards using 16-slot inventory
// rounds. Slots where several cards answered at once are retried with a
// longer slot-nibble mask until every branch resolves or the tag limit
// is reached.
func (p *ISO15693) InventoryMultiple(maxTags int) ([]UID, error) {
	return p.InventoryMultipleContext(context.Background(), maxTags)
}

// InventoryMultipleContext is like InventoryMultiple but honors context
// cancellation.
func (p *ISO15693) InventoryMultipleContext(ctx context.Context, maxTags int) ([]UID, error) {
	if maxTags <= 0 {
		return nil, fmt.Errorf("%w: max tags %d", ErrInvalidParameter, maxTags)
	}

	uids, queue, err := p.inventoryPoll(ctx, maxTags, nil, nil)
	if err != nil {
		return nil, err
	}
	for len(queue) > 0 && len(uids) < maxTags {
		uids, queue, err = p.inventoryPoll(ctx, maxTags, uids, queue)
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
	}
	return uids, nil
}

// inventoryPoll runs one 16-slot inventory round. When queue is
// non-empty, its head is the collision mask to poll under; freshly
// detected collisions are appended. The field is power-cycled at the
// end of the round so silenced cards answer again in the next one.
func (p *ISO15693) inventoryPoll(
	ctx context.Context, maxTags int, uids []UID, queue []uint16,
) ([]UID, []uint16, error) {
	d := p.d

	var mask uint16
	maskLen := 0
	if len(queue) > 0 {
		// A queued mask spans at least one nibble even when its value
		// is zero, otherwise a slot-0 collision would re-run the
		// unmasked round and collide identically forever.
		mask = queue[0]
		maskLen = 1
		for v := mask >> 4; v > 0; v >>= 4 {
			maskLen++
		}
	}

	var maskBytes [2]byte
	binary.LittleEndian.PutUint16(maskBytes[:], mask)
	cmd := []byte{
		iso15693FlagDataRate | iso15693FlagInventory,
		iso15693CmdInventory,
		byte(maskLen * 4),
		maskBytes[0],
		maskBytes[1],
	}
	cmd = cmd[:3+(maskLen+1)/2]

	if err := d.ClearIRQStatusContext(ctx, irqAll); err != nil {
		return uids, queue, err
	}
	if err := d.SendDataContext(ctx, cmd, 0); err != nil {
		return uids, queue, err
	}

	for slot := 0; slot < 16; slot++ {
		if err := sleepContext(ctx, iso15693ResponseWait); err != nil {
			return uids, queue, err
		}
		irqStatus, err := d.GetIRQStatusContext(ctx)
		if err != nil {
			return uids, queue, err
		}
		rxStatus, err := d.ReadRegisterContext(ctx, regRXStatus)
		if err != nil {
			return uids, queue, err
		}
		length := int(rxStatus & rxStatusLenMask)

		switch {
		case rxStatus&rxStatusCollision != 0:
			if len(queue) >= maxTags {
				Debugf("inventory slot %d: collision dropped, queue full", slot)
				break
			}
			if maskLen >= collisionMaskNibbles {
				Debugf("inventory slot %d: collision under full mask %#04x, branch dropped", slot, mask)
				break
			}
			queue = append(queue, mask|uint16(slot)<<(maskLen*4))
		case irqStatus&irqRX == 0 && length == 0:
			// empty slot
		default:
			if len(uids) >= maxTags {
				break
			}
			resp, err := d.ReadDataContext(ctx, length+1)
			if err != nil {
				return uids, queue, err
			}
			// Response: flags, DSFID, UID
			if length+1 >= 10 {
				var uid UID
				copy(uid[:], resp[2:10])
				uids = append(uids, uid)
			}
		}

		if slot+1 < 16 {
			// The next SEND_DATA carries only an EOF, closing this
			// slot and opening the next one.
			if err := d.WriteRegisterAndMaskContext(ctx, regTXConfig, txConfigEOFOnly); err != nil {
				return uids, queue, err
			}
			if err := sleepContext(ctx, 5*time.Millisecond); err != nil {
				return uids, queue, err
			}
			if err := d.ClearIRQStatusContext(ctx, irqAll); err != nil {
				return uids, queue, err
			}
			if err := d.SendDataContext(ctx, nil, 0); err != nil {
				return uids, queue, err
			}
		}
	}

	if err := d.RFOffContext(ctx); err != nil {
		return uids, queue, err
	}
	if err := p.SetupRFContext(ctx); err != nil {
		return uids, queue, err
	}
	return uids, queue, nil
}

// ReadSingleBlock reads one block from an addressed card. blockSize
// comes from GetSystemInfo; the result is a copy safe to retain.
func (p *ISO15693) ReadSingleBlock(uid UID, blockNo byte, blockSize int) ([]byte, error) {
	return p.ReadSingleBlockContext(context.Background(), uid, blockNo, blockSize)
}

// ReadSingleBlockContext is like ReadSingleBlock but honors context
// cancellation.
func (p *ISO15693) ReadSingleBlockContext(ctx context.Context, uid UID, blockNo byte, blockSize int) ([]byte, error) {
	if blockSize <= 0 || blockSize > 32 {
		return nil, fmt.Errorf("%w: block size %d", ErrInvalidParameter, blockSize)
	}
	var scratch [11]byte
	cmd := addressedFrame(scratch[:], iso15693CmdReadSingleBlock, uid, blockNo)
	resp, err := p.transceive(ctx, "read single block", cmd)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1+blockSize {
		return nil, p.d.wrapError(fmt.Errorf("read single block: response length %d, want %d: %w",
			len(resp), 1+blockSize, ErrInvalidResponse))
	}
	block := make([]byte, blockSize)
	copy(block, resp[1:1+blockSize])
	return block, nil
}

// WriteSingleBlock writes one block of an addressed card. The data
// length must match the card's block size.
func (p *ISO15693) WriteSingleBlock(uid UID, blockNo byte, data []byte) error {
	return p.WriteSingleBlockContext(context.Background(), uid, blockNo, data)
}

// WriteSingleBlockContext is like WriteSingleBlock but honors context
// cancellation.
func (p *ISO15693) WriteSingleBlockContext(ctx context.Context, uid UID, blockNo byte, data []byte) error {
	if len(data) == 0 || len(data) > 32 {
		return fmt.Errorf("%w: block data length %d", ErrInvalidParameter, len(data))
	}
	var scratch [43]byte
	cmd := addressedFrame(scratch[:], iso15693CmdWriteSingleBlock, uid, blockNo)
	cmd = append(cmd, data...)
	_, err := p.transceive(ctx, "write single block", cmd)
	return err
}

// ReadMultipleBlocks reads numBlocks consecutive blocks starting at
// firstBlock. The range is validated against the card's geometry before
// anything is sent.
func (p *ISO15693) ReadMultipleBlocks(card *VicinityCard, firstBlock, numBlocks int) ([]byte, error) {
	return p.ReadMultipleBlocksContext(context.Background(), card, firstBlock, numBlocks)
}

// ReadMultipleBlocksContext is like ReadMultipleBlocks but honors
// context cancellation.
func (p *ISO15693) ReadMultipleBlocksContext(ctx context.Context, card *VicinityCard, firstBlock, numBlocks int) ([]byte, error) {
	if card == nil {
		return nil, fmt.Errorf("%w: nil card", ErrInvalidParameter)
	}
	if numBlocks <= 0 || numBlocks > 256 {
		return nil, fmt.Errorf("%w: block count %d", ErrInvalidParameter, numBlocks)
	}
	if firstBlock < 0 || firstBlock >= card.NumBlocks || firstBlock+numBlocks > card.NumBlocks {
		return nil, fmt.Errorf("%w: blocks %d-%d of %d",
			ErrBlockOutOfRange, firstBlock, firstBlock+numBlocks-1, card.NumBlocks)
	}

	var scratch [12]byte
	cmd := addressedFrame(scratch[:], iso15693CmdReadMultipleBlocks, card.UID,
		byte(firstBlock), byte(numBlocks-1))
	resp, err := p.transceive(ctx, "read multiple blocks", cmd)
	if err != nil {
		return nil, err
	}
	want := numBlocks * card.BlockSize
	if len(resp) < 1+want {
		return nil, p.d.wrapError(fmt.Errorf("read multiple blocks: response length %d, want %d: %w",
			len(resp), 1+want, ErrInvalidResponse))
	}
	data := make([]byte, want)
	copy(data, resp[1:1+want])
	return data, nil
}

// GetSystemInfo queries an addressed card for its identity and memory
// geometry. Optional fields are reported through the Has flags.
func (p *ISO15693) GetSystemInfo(uid UID) (*VicinityCard, error) {
	return p.GetSystemInfoContext(context.Background(), uid)
}

// GetSystemInfoContext is like GetSystemInfo but honors context
// cancellation.
func (p *ISO15693) GetSystemInfoContext(ctx context.Context, uid UID) (*VicinityCard, error) {
	var scratch [10]byte
	cmd := addressedFrame(scratch[:], iso15693CmdGetSystemInfo, uid)
	resp, err := p.transceive(ctx, "get system info", cmd)
	if err != nil {
		return nil, err
	}
	// Response: flags, infoFlags, UID, then optional fields in
	// infoFlags order.
	if len(resp) < 10 {
		return nil, p.d.wrapError(fmt.Errorf("get system info: response length %d: %w",
			len(resp), ErrInvalidResponse))
	}

	card := &VicinityCard{}
	copy(card.UID[:], resp[2:10])
	infoFlags := resp[1]
	fields := resp[10:]

	next := func() (byte, bool) {
		if len(fields) == 0 {
			return 0, false
		}
		b := fields[0]
		fields = fields[1:]
		return b, true
	}

	if infoFlags&0x01 != 0 {
		if b, ok := next(); ok {
			card.DSFID = b
			card.HasDSFID = true
		}
	}
	if infoFlags&0x02 != 0 {
		if b, ok := next(); ok {
			card.AFI = b
			card.HasAFI = true
		}
	}
	if infoFlags&0x04 != 0 {
		blocks, ok1 := next()
		size, ok2 := next()
		if ok1 && ok2 {
			card.NumBlocks = int(blocks) + 1
			card.BlockSize = int(size&0x1F) + 1
		}
	}
	if infoFlags&0x08 != 0 {
		if b, ok := next(); ok {
			card.ICRef = b
			card.HasICRef = true
		}
	}
	return card, nil
}
