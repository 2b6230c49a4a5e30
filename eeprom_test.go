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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	simtest "github.com/ZaparooProject/go-pn5180/internal/testing"
)

func TestDevice_IdentityReads(t *testing.T) {
	t.Parallel()
	device, _ := newVirtualDevice(t)

	product, err := device.ProductVersion()
	require.NoError(t, err)
	assert.Equal(t, "4.1", product.String())

	firmware, err := device.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, pn5180.Version{Major: 4, Minor: 2}, firmware)

	eeprom, err := device.EEPROMVersion()
	require.NoError(t, err)
	assert.Equal(t, pn5180.Version{Major: 145, Minor: 1}, eeprom)

	dieID, err := device.DieIdentifier()
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, dieID)
}

func TestDevice_Reset(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)

	require.NoError(t, device.ISO15693().SetupRF())
	require.True(t, sim.RFFieldOn())

	require.NoError(t, device.Reset())
	assert.False(t, sim.RFFieldOn(), "reset drops the RF field")

	status, err := device.GetIRQStatus()
	require.NoError(t, err)
	assert.Zero(t, status, "reset leaves no pending interrupts")
}

func TestLPCD_PrepareAndSwitch(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)

	cfg := pn5180.DefaultLPCDConfig()
	cfg.Threshold = 0x08
	require.NoError(t, device.PrepareLPCD(cfg))

	require.NoError(t, device.SwitchToLPCD(1000))
	assert.True(t, sim.InLPCD())
	assert.False(t, sim.RFFieldOn())
}

func TestLPCD_WakeOnCardDetect(t *testing.T) {
	t.Parallel()
	device, sim := newVirtualDevice(t)

	require.NoError(t, device.PrepareLPCD(pn5180.DefaultLPCDConfig()))
	require.NoError(t, device.SwitchToLPCD(200))

	sim.TriggerCardDetect()
	assert.False(t, sim.InLPCD(), "a detection wakes the chip")

	status, err := device.GetIRQStatus()
	require.NoError(t, err)
	assert.NotZero(t, status&(1<<19), "the LPCD interrupt flags the wake-up")
}

func TestLPCD_DefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := pn5180.DefaultLPCDConfig()
	assert.Equal(t, byte(0xF0), cfg.FieldOnTime)
	assert.True(t, cfg.SelfCalibration)
}

var _ pn5180.Transport = (*simtest.VirtualPN5180)(nil)
