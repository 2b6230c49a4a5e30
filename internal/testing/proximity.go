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

import "bytes"

// proximityState tracks how far an ISO14443-A activation has come.
type proximityState int

const (
	proxIdle proximityState = iota
	proxWoken
	proxCascade1
	proxSelected
)

// ISO14443-A frame bytes served by the virtual card.
const (
	proxREQA        = 0x26
	proxWUPA        = 0x52
	proxCascade1Sel = 0x93
	proxCascade2Sel = 0x95
	proxAnticoll    = 0x20
	proxSelect      = 0x70
	proxCascadeTag  = 0x88

	proxMifareRead  = 0x30
	proxMifareWrite = 0xA0
	proxMifareHalt  = 0x50
	proxAck         = 0x0A
)

// ProximityTag is a virtual ISO14443-A card with MIFARE Classic block
// memory. UID must be 4 or 7 bytes.
type ProximityTag struct {
	Blocks        map[byte][]byte
	UID           []byte
	KeyA          [6]byte
	ATQA          [2]byte
	SAK           byte
	pendingWrite  int // block number of a write in flight, -1 otherwise
	authenticated bool
	halted        bool
}

// NewProximityTag builds a card with the given UID and default MIFARE
// Classic parameters.
func NewProximityTag(uid []byte) *ProximityTag {
	return &ProximityTag{
		UID:          uid,
		ATQA:         [2]byte{0x04, 0x00},
		SAK:          0x08,
		KeyA:         [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		Blocks:       make(map[byte][]byte),
		pendingWrite: -1,
	}
}

func (t *ProximityTag) matchKey(key []byte, keyType byte) bool {
	return keyType == 0x60 && bytes.Equal(key, t.KeyA[:])
}

func (t *ProximityTag) matchUID4(uid []byte) bool {
	return len(t.UID) >= 4 && bytes.Equal(uid, t.UID[:4])
}

func bcc(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// cascade1Bytes returns the level 1 anticollision answer.
func (t *ProximityTag) cascade1Bytes() []byte {
	if len(t.UID) == 4 {
		resp := append([]byte{}, t.UID...)
		return append(resp, bcc(resp))
	}
	resp := []byte{proxCascadeTag, t.UID[0], t.UID[1], t.UID[2]}
	return append(resp, bcc(resp))
}

// cascade2Bytes returns the level 2 anticollision answer for 7-byte
// UIDs.
func (t *ProximityTag) cascade2Bytes() []byte {
	resp := append([]byte{}, t.UID[3:7]...)
	return append(resp, bcc(resp))
}

// handleWakeup serves REQA and WUPA. Caller holds the lock.
func (v *VirtualPN5180) handleWakeup(cmd byte) {
	tag := v.proximity
	if tag == nil {
		v.deliverSilence()
		return
	}
	if cmd == proxREQA && tag.halted {
		v.deliverSilence()
		return
	}
	if cmd != proxREQA && cmd != proxWUPA {
		v.deliverSilence()
		return
	}
	tag.halted = false
	v.proxState = proxWoken
	v.deliver(tag.ATQA[:])
}

// handleProximityFrame serves anticollision, select and the MIFARE
// Classic commands. Caller holds the lock.
func (v *VirtualPN5180) handleProximityFrame(payload []byte) {
	tag := v.proximity
	if tag == nil || len(payload) < 2 {
		v.deliverSilence()
		return
	}

	// second half of a two-step MIFARE write
	if tag.pendingWrite >= 0 {
		if len(payload) == 16 {
			block := make([]byte, 16)
			copy(block, payload)
			tag.Blocks[byte(tag.pendingWrite)] = block
			tag.pendingWrite = -1
			v.deliver([]byte{proxAck})
			return
		}
		tag.pendingWrite = -1
		v.deliverSilence()
		return
	}

	switch payload[0] {
	case proxCascade1Sel:
		switch payload[1] {
		case proxAnticoll:
			if v.proxState < proxWoken {
				v.deliverSilence()
				return
			}
			v.deliver(tag.cascade1Bytes())
		case proxSelect:
			if len(payload) != 7 || !bytes.Equal(payload[2:], tag.cascade1Bytes()) {
				v.deliverSilence()
				return
			}
			if len(tag.UID) == 4 {
				v.proxState = proxSelected
				v.deliver([]byte{tag.SAK &^ 0x04})
				return
			}
			v.proxState = proxCascade1
			v.deliver([]byte{tag.SAK | 0x04})
		default:
			v.deliverSilence()
		}

	case proxCascade2Sel:
		if len(tag.UID) != 7 || v.proxState < proxCascade1 {
			v.deliverSilence()
			return
		}
		switch payload[1] {
		case proxAnticoll:
			v.deliver(tag.cascade2Bytes())
		case proxSelect:
			if len(payload) != 7 || !bytes.Equal(payload[2:], tag.cascade2Bytes()) {
				v.deliverSilence()
				return
			}
			v.proxState = proxSelected
			v.deliver([]byte{tag.SAK &^ 0x04})
		default:
			v.deliverSilence()
		}

	case proxMifareRead:
		if v.proxState < proxSelected || !tag.authenticated {
			v.deliverSilence()
			return
		}
		block, ok := tag.Blocks[payload[1]]
		if !ok || len(block) != 16 {
			v.deliverSilence()
			return
		}
		v.deliver(append([]byte{}, block...))

	case proxMifareWrite:
		if v.proxState < proxSelected || !tag.authenticated {
			v.deliverSilence()
			return
		}
		tag.pendingWrite = int(payload[1])
		v.deliver([]byte{proxAck})

	case proxMifareHalt:
		if payload[1] == 0x00 {
			tag.halted = true
			v.proxState = proxIdle
		}
		v.deliverSilence()

	default:
		v.deliverSilence()
	}
}
