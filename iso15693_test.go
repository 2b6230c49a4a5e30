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

package pn5180_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	simtest "github.com/ZaparooProject/go-pn5180/internal/testing"
)

// newVirtualDevice wires a device to a simulated chip with an empty RF
// field.
func newVirtualDevice(t *testing.T) (*pn5180.Device, *simtest.VirtualPN5180) {
	t.Helper()
	sim := simtest.NewVirtualPN5180()
	device, err := pn5180.New(sim, pn5180.WithoutRetry(), pn5180.WithTimeout(250*time.Millisecond))
	require.NoError(t, err)
	return device, sim
}

func testUID(first byte) pn5180.UID {
	return pn5180.UID{first, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
}

func TestUID_StringIsMSBFirst(t *testing.T) {
	t.Parallel()

	uid := pn5180.UID{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	assert.Equal(t, "E0:04:AB:89:67:45:23:01", uid.String())

	assert.True(t, pn5180.UID{}.IsZero())
	assert.False(t, uid.IsZero())
}

func TestISO15693_InventorySingleTag(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	sim.AddVicinityTag(simtest.NewVicinityTag(testUID(0x01), 8, 4))

	uid, err := vic.Inventory()
	require.NoError(t, err)
	assert.Equal(t, testUID(0x01), uid)
}

func TestISO15693_InventoryEmptyField(t *testing.T) {
	t.Parallel()
	device, _ := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	_, err := vic.Inventory()
	require.ErrorIs(t, err, pn5180.ErrNoCard)
	assert.True(t, pn5180.IsNoCard(err))
}

func TestISO15693_InventoryMultipleDistinctSlots(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	// different low nibbles: each tag owns its own time slot
	tags := []pn5180.UID{testUID(0x01), testUID(0x05), testUID(0x0C)}
	for _, uid := range tags {
		sim.AddVicinityTag(simtest.NewVicinityTag(uid, 8, 4))
	}

	uids, err := vic.InventoryMultiple(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, tags, uids)
}

func TestISO15693_InventoryResolvesCollisions(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	// same low nibble: both answer in slot 1 and collide; the retry
	// under the one-nibble mask separates them
	uidA := pn5180.UID{0x11, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	uidB := pn5180.UID{0x21, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	sim.AddVicinityTag(simtest.NewVicinityTag(uidA, 8, 4))
	sim.AddVicinityTag(simtest.NewVicinityTag(uidB, 8, 4))

	uids, err := vic.InventoryMultiple(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []pn5180.UID{uidA, uidB}, uids)
}

func TestISO15693_InventoryResolvesSlotZeroCollision(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	// both low nibbles are zero, so the unmasked round collides in
	// slot 0 and the queued mask value is itself zero; the retry must
	// still run under a one-nibble mask to separate them
	uidA := pn5180.UID{0x10, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	uidB := pn5180.UID{0x20, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	sim.AddVicinityTag(simtest.NewVicinityTag(uidA, 8, 4))
	sim.AddVicinityTag(simtest.NewVicinityTag(uidB, 8, 4))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	uids, err := vic.InventoryMultipleContext(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []pn5180.UID{uidA, uidB}, uids)
}

func TestISO15693_InventorySlotsThreeAndEleven(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	// distinct slots 3 and 11: one pass, no collision handling needed
	uidA := pn5180.UID{0x03, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	uidB := pn5180.UID{0x0B, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
	sim.AddVicinityTag(simtest.NewVicinityTag(uidA, 8, 4))
	sim.AddVicinityTag(simtest.NewVicinityTag(uidB, 8, 4))

	uids, err := vic.InventoryMultiple(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []pn5180.UID{uidA, uidB}, uids)
}

func TestISO15693_InventoryHonorsTagLimit(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	for _, first := range []byte{0x02, 0x04, 0x06} {
		sim.AddVicinityTag(simtest.NewVicinityTag(testUID(first), 8, 4))
	}

	uids, err := vic.InventoryMultiple(2)
	require.NoError(t, err)
	assert.Len(t, uids, 2)

	_, err = vic.InventoryMultiple(0)
	require.ErrorIs(t, err, pn5180.ErrInvalidParameter)
}

func TestISO15693_GetSystemInfo(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	tag := simtest.NewVicinityTag(testUID(0x01), 28, 4)
	tag.AFI = 0x42
	tag.ICRef = 0x03
	sim.AddVicinityTag(tag)

	card, err := vic.GetSystemInfo(testUID(0x01))
	require.NoError(t, err)
	assert.Equal(t, testUID(0x01), card.UID)
	assert.Equal(t, 28, card.NumBlocks)
	assert.Equal(t, 4, card.BlockSize)
	assert.True(t, card.HasAFI)
	assert.Equal(t, byte(0x42), card.AFI)
	assert.True(t, card.HasICRef)
	assert.Equal(t, byte(0x03), card.ICRef)
}

func TestISO15693_BlockRoundTrips(t *testing.T) {
	t.Parallel()

	for _, blockSize := range []int{4, 8, 16, 32} {
		blockSize := blockSize
		t.Run(fmt.Sprintf("%d byte blocks", blockSize), func(t *testing.T) {
			t.Parallel()
			device, sim := newVirtualDevice(t)
			vic := device.ISO15693()
			require.NoError(t, vic.SetupRF())

			uid := testUID(0x01)
			sim.AddVicinityTag(simtest.NewVicinityTag(uid, 8, blockSize))

			data := make([]byte, blockSize)
			for i := range data {
				data[i] = byte(i + 1)
			}
			require.NoError(t, vic.WriteSingleBlock(uid, 3, data))

			got, err := vic.ReadSingleBlock(uid, 3, blockSize)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestISO15693_WriteSingleBlock_LengthChecks(t *testing.T) {
	t.Parallel()
	device, _ := newVirtualDevice(t)
	vic := device.ISO15693()

	require.ErrorIs(t, vic.WriteSingleBlock(testUID(0x01), 0, nil), pn5180.ErrInvalidParameter)
	require.ErrorIs(t, vic.WriteSingleBlock(testUID(0x01), 0, make([]byte, 33)), pn5180.ErrInvalidParameter)
}

func TestISO15693_ReadMultipleBlocks(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	uid := testUID(0x01)
	tag := simtest.NewVicinityTag(uid, 8, 4)
	for i, block := range tag.Blocks {
		for j := range block {
			block[j] = byte(i*4 + j)
		}
	}
	sim.AddVicinityTag(tag)

	card := &pn5180.VicinityCard{UID: uid, BlockSize: 4, NumBlocks: 8}
	data, err := vic.ReadMultipleBlocks(card, 2, 3)
	require.NoError(t, err)
	require.Len(t, data, 12)
	assert.Equal(t, byte(8), data[0])   // block 2 starts at 2*4
	assert.Equal(t, byte(19), data[11]) // block 4 ends at 4*4+3
}

func TestISO15693_ReadMultipleBlocks_RangeRejectedBeforeBusTraffic(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	card := &pn5180.VicinityCard{UID: testUID(0x01), BlockSize: 4, NumBlocks: 8}
	before := sim.Exchanges()

	_, err := vic.ReadMultipleBlocks(card, 6, 4)
	require.ErrorIs(t, err, pn5180.ErrBlockOutOfRange)
	assert.Equal(t, before, sim.Exchanges(), "rejected range must not reach the chip")

	_, err = vic.ReadMultipleBlocks(nil, 0, 1)
	require.ErrorIs(t, err, pn5180.ErrInvalidParameter)
}

func TestISO15693_CardErrorMapping(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	uid := testUID(0x01)
	tag := simtest.NewVicinityTag(uid, 8, 4)
	tag.FailCodes = map[byte]byte{
		0x20: pn5180.ISO15693ErrBlockNotAvailable,
		0xB2: 0xB5,
	}
	sim.AddVicinityTag(tag)

	_, err := vic.ReadSingleBlock(uid, 0, 4)
	var cardErr *pn5180.ISO15693Error
	require.ErrorAs(t, err, &cardErr)
	assert.Equal(t, pn5180.ISO15693ErrBlockNotAvailable, cardErr.Code)
	assert.False(t, cardErr.IsCustom())

	_, err = vic.GetRandomNumber()
	require.ErrorAs(t, err, &cardErr)
	assert.Equal(t, byte(0xB5), cardErr.Code)
	assert.True(t, cardErr.IsCustom())
}

func TestISO15693_SlixPrivacyCycle(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	password := [4]byte{0x0F, 0x0F, 0x0F, 0x0F}
	tag := simtest.NewVicinityTag(testUID(0x01), 8, 4)
	tag.Password = password
	sim.AddVicinityTag(tag)

	// lock the card: it disappears from inventory
	require.NoError(t, vic.EnablePrivacyMode(password))
	_, err := vic.Inventory()
	require.ErrorIs(t, err, pn5180.ErrNoCard)

	// the wrong password does not unlock it
	err = vic.DisablePrivacyMode([4]byte{0xDE, 0xAD, 0xBE, 0xEF})
	var cardErr *pn5180.ISO15693Error
	require.ErrorAs(t, err, &cardErr)

	// the right one does
	require.NoError(t, vic.DisablePrivacyMode(password))
	uid, err := vic.Inventory()
	require.NoError(t, err)
	assert.Equal(t, testUID(0x01), uid)
}

func TestISO15693_GetRandomNumber(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)
	vic := device.ISO15693()
	require.NoError(t, vic.SetupRF())

	sim.AddVicinityTag(simtest.NewVicinityTag(testUID(0x01), 8, 4))

	random, err := vic.GetRandomNumber()
	require.NoError(t, err)
	assert.NotEqual(t, [2]byte{}, random)
}
