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

package testing

import (
	"encoding/binary"

	pn5180 "github.com/ZaparooProject/go-pn5180"
)

// ISO15693 command codes served by the virtual card.
const (
	vicCmdInventory     = 0x01
	vicCmdReadSingle    = 0x20
	vicCmdWriteSingle   = 0x21
	vicCmdReadMultiple  = 0x23
	vicCmdGetSystemInfo = 0x2B
	vicCmdGetRandom     = 0xB2
	vicCmdSetPassword   = 0xB3
	vicCmdEnablePrivacy = 0xBA
)

// VicinityTag is a virtual ISO15693 card. Blocks holds NumBlocks rows
// of BlockSize bytes each.
type VicinityTag struct {
	Blocks    [][]byte
	FailCodes map[byte]byte // command code -> ISO15693 error code
	UID       pn5180.UID
	Password  [4]byte // SLIX privacy password
	random    [2]byte
	DSFID     byte
	AFI       byte
	ICRef     byte
	Privacy   bool
}

// NewVicinityTag builds a tag with the given UID and a zeroed memory of
// numBlocks x blockSize bytes.
func NewVicinityTag(uid pn5180.UID, numBlocks, blockSize int) *VicinityTag {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &VicinityTag{
		UID:    uid,
		Blocks: blocks,
		DSFID:  0x00,
		ICRef:  0x01,
	}
}

// uidValue exposes the UID as an integer so that inventory slotting can
// address it nibble by nibble, least significant nibble first.
func (t *VicinityTag) uidValue() uint64 {
	return binary.LittleEndian.Uint64(t.UID[:])
}

// matchesMask reports whether the tag answers an inventory request
// carrying maskLen nibbles of mask.
func (t *VicinityTag) matchesMask(mask uint64, maskLen int) bool {
	if t.Privacy {
		return false
	}
	bits := uint(maskLen * 4)
	return t.uidValue()&((1<<bits)-1) == mask
}

// slotFor returns the time slot the tag answers in when polled under a
// maskLen-nibble mask.
func (t *VicinityTag) slotFor(maskLen int) int {
	return int((t.uidValue() >> uint(maskLen*4)) & 0xF)
}

func (t *VicinityTag) inventoryResponse() []byte {
	resp := make([]byte, 0, 10)
	resp = append(resp, 0x00, t.DSFID)
	resp = append(resp, t.UID[:]...)
	return resp
}

// runInventorySlot computes the outcome of the poll's current slot.
// Caller holds the lock.
func (v *VirtualPN5180) runInventorySlot() {
	poll := v.poll
	var inSlot []*VicinityTag
	for _, tag := range v.vicinity {
		if tag.matchesMask(poll.mask, poll.maskLen) && tag.slotFor(poll.maskLen) == poll.slot {
			inSlot = append(inSlot, tag)
		}
	}
	switch len(inSlot) {
	case 0:
		v.deliverSilence()
	case 1:
		v.deliver(inSlot[0].inventoryResponse())
	default:
		v.deliverCollision()
	}
}

// handleVicinityFrame serves one ISO15693 request. Caller holds the
// lock.
func (v *VirtualPN5180) handleVicinityFrame(payload []byte) {
	if len(payload) < 2 {
		v.deliverSilence()
		return
	}
	flags, cmd := payload[0], payload[1]

	if flags&0x04 != 0 && cmd == vicCmdInventory {
		v.startInventory(flags, payload[2:])
		return
	}

	// SLIX custom commands are not addressed
	switch cmd {
	case vicCmdGetRandom, vicCmdSetPassword, vicCmdEnablePrivacy:
		v.handleSlix(cmd, payload)
		return
	}

	// addressed request: UID follows flags and command
	if flags&0x20 == 0 || len(payload) < 10 {
		v.deliverSilence()
		return
	}
	var uid pn5180.UID
	copy(uid[:], payload[2:10])
	tag := v.findVicinity(uid)
	if tag == nil {
		v.deliverSilence()
		return
	}
	if code, ok := tag.FailCodes[cmd]; ok {
		v.deliver([]byte{0x01, code})
		return
	}
	v.handleAddressed(tag, cmd, payload[10:])
}

func (v *VirtualPN5180) findVicinity(uid pn5180.UID) *VicinityTag {
	for _, tag := range v.vicinity {
		if tag.UID == uid && !tag.Privacy {
			return tag
		}
	}
	return nil
}

func (v *VirtualPN5180) startInventory(flags byte, rest []byte) {
	if flags&0x20 != 0 {
		// one-slot request: a lone card answers, several collide
		var alive []*VicinityTag
		for _, tag := range v.vicinity {
			if !tag.Privacy {
				alive = append(alive, tag)
			}
		}
		switch len(alive) {
		case 0:
			v.deliverSilence()
		case 1:
			v.deliver(alive[0].inventoryResponse())
		default:
			v.deliverCollision()
		}
		return
	}

	// 16-slot request: mask length in bits, then mask bytes
	poll := &inventoryPoll{}
	if len(rest) > 0 {
		poll.maskLen = int(rest[0]) / 4
		maskBytes := rest[1:]
		var buf [8]byte
		copy(buf[:], maskBytes)
		poll.mask = binary.LittleEndian.Uint64(buf[:]) & ((1 << uint(poll.maskLen*4)) - 1)
	}
	poll.slot = 0
	v.poll = poll
	v.runInventorySlot()
}

func (v *VirtualPN5180) handleAddressed(tag *VicinityTag, cmd byte, params []byte) {
	switch cmd {
	case vicCmdReadSingle:
		if len(params) < 1 {
			v.deliverSilence()
			return
		}
		blockNo := int(params[0])
		if blockNo >= len(tag.Blocks) {
			v.deliver([]byte{0x01, 0x10})
			return
		}
		resp := append([]byte{0x00}, tag.Blocks[blockNo]...)
		v.deliver(resp)

	case vicCmdWriteSingle:
		if len(params) < 2 {
			v.deliverSilence()
			return
		}
		blockNo := int(params[0])
		data := params[1:]
		if blockNo >= len(tag.Blocks) {
			v.deliver([]byte{0x01, 0x10})
			return
		}
		if len(data) != len(tag.Blocks[blockNo]) {
			v.deliver([]byte{0x01, 0x0F})
			return
		}
		copy(tag.Blocks[blockNo], data)
		v.deliver([]byte{0x00})

	case vicCmdReadMultiple:
		if len(params) < 2 {
			v.deliverSilence()
			return
		}
		first, count := int(params[0]), int(params[1])+1
		if first+count > len(tag.Blocks) {
			v.deliver([]byte{0x01, 0x10})
			return
		}
		resp := []byte{0x00}
		for i := first; i < first+count; i++ {
			resp = append(resp, tag.Blocks[i]...)
		}
		v.deliver(resp)

	case vicCmdGetSystemInfo:
		blockSize := 4
		if len(tag.Blocks) > 0 {
			blockSize = len(tag.Blocks[0])
		}
		resp := []byte{0x00, 0x0F}
		resp = append(resp, tag.UID[:]...)
		resp = append(resp,
			tag.DSFID,
			tag.AFI,
			byte(len(tag.Blocks)-1),
			byte(blockSize-1),
			tag.ICRef,
		)
		v.deliver(resp)

	default:
		v.deliver([]byte{0x01, 0x01}) // command not supported
	}
}

// handleSlix serves the ICODE SLIX password commands. The first tag in
// the field answers; privacy-mode tags answer only these commands.
func (v *VirtualPN5180) handleSlix(cmd byte, payload []byte) {
	if len(v.vicinity) == 0 {
		v.deliverSilence()
		return
	}
	tag := v.vicinity[0]
	if code, ok := tag.FailCodes[cmd]; ok {
		v.deliver([]byte{0x01, code})
		return
	}

	switch cmd {
	case vicCmdGetRandom:
		tag.random = [2]byte{0x5A, 0xC3}
		v.deliver([]byte{0x00, tag.random[0], tag.random[1]})

	case vicCmdSetPassword:
		// flags, cmd, mfg, identifier, masked password
		if len(payload) < 8 {
			v.deliverSilence()
			return
		}
		if tag.unmaskMatches(payload[4:8]) {
			tag.Privacy = false
			v.deliver([]byte{0x00})
			return
		}
		v.deliver([]byte{0x01, 0x0F})

	case vicCmdEnablePrivacy:
		if len(payload) < 7 {
			v.deliverSilence()
			return
		}
		if tag.unmaskMatches(payload[3:7]) {
			tag.Privacy = true
			v.deliver([]byte{0x00})
			return
		}
		v.deliver([]byte{0x01, 0x0F})
	}
}

// unmaskMatches checks a masked password against the tag's, using the
// random number handed out earlier.
func (t *VicinityTag) unmaskMatches(masked []byte) bool {
	return masked[0]^t.random[0] == t.Password[0] &&
		masked[1]^t.random[1] == t.Password[1] &&
		masked[2]^t.random[0] == t.Password[2] &&
		masked[3]^t.random[1] == t.Password[3]
}
