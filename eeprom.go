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

// Version is a two-byte chip version as stored in EEPROM.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// readVersion reads a two-byte version field, minor byte first.
func (d *Device) readVersion(ctx context.Context, addr byte) (Version, error) {
	buf, err := d.ReadEEPROMContext(ctx, addr, 2)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: buf[1], Minor: buf[0]}, nil
}

// ProductVersion returns the silicon product version.
func (d *Device) ProductVersion() (Version, error) {
	return d.ProductVersionContext(context.Background())
}

// ProductVersionContext is like ProductVersion but honors context
// cancellation.
func (d *Device) ProductVersionContext(ctx context.Context) (Version, error) {
	return d.readVersion(ctx, eepromProductVersion)
}

// FirmwareVersion returns the chip firmware version.
func (d *Device) FirmwareVersion() (Version, error) {
	return d.FirmwareVersionContext(context.Background())
}

// FirmwareVersionContext is like FirmwareVersion but honors context
// cancellation.
func (d *Device) FirmwareVersionContext(ctx context.Context) (Version, error) {
	return d.readVersion(ctx, eepromFirmwareVersion)
}

// EEPROMVersion returns the EEPROM layout version.
func (d *Device) EEPROMVersion() (Version, error) {
	return d.EEPROMVersionContext(context.Background())
}

// EEPROMVersionContext is like EEPROMVersion but honors context
// cancellation.
func (d *Device) EEPROMVersionContext(ctx context.Context) (Version, error) {
	return d.readVersion(ctx, eepromEEPROMVersion)
}

// DieIdentifier returns the chip's unique 16-byte die identifier.
func (d *Device) DieIdentifier() ([16]byte, error) {
	return d.DieIdentifierContext(context.Background())
}

// DieIdentifierContext is like DieIdentifier but honors context
// cancellation.
func (d *Device) DieIdentifierContext(ctx context.Context) ([16]byte, error) {
	var id [16]byte
	buf, err := d.ReadEEPROMContext(ctx, eepromDieIdentifier, len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], buf)
	return id, nil
}

// LPCDConfig holds the EEPROM parameters for low-power card detection.
type LPCDConfig struct {
	// FieldOnTime is the probe field duration, value x 8us + 62us.
	FieldOnTime byte
	// Threshold is the AGC detection threshold.
	Threshold byte
	// SelfCalibration selects self calibration over auto calibration.
	SelfCalibration bool
	// GPOToggleBefore and GPOToggleAfter shape the GPO pulse around
	// the probe field.
	GPOToggleBefore byte
	GPOToggleAfter  byte
}

// DefaultLPCDConfig returns LPCD parameters that work for typical
// antenna tunings.
func DefaultLPCDConfig() LPCDConfig {
	return LPCDConfig{
		FieldOnTime:     0xF0,
		Threshold:       0x03,
		SelfCalibration: true,
		GPOToggleBefore: 0xF0,
		GPOToggleAfter:  0xF0,
	}
}

// PrepareLPCD writes the low-power card detection parameters to EEPROM
// and verifies each one by reading it back. Call once before
// SwitchToLPCD; the values persist across power cycles.
func (d *Device) PrepareLPCD(cfg LPCDConfig) error {
	return d.PrepareLPCDContext(context.Background(), cfg)
}

// PrepareLPCDContext is like PrepareLPCD but honors context
// cancellation.
func (d *Device) PrepareLPCDContext(ctx context.Context, cfg LPCDConfig) error {
	mode := byte(0x00)
	if cfg.SelfCalibration {
		mode = 0x01
	}
	params := []struct {
		addr  byte
		value byte
	}{
		{eepromLPCDFieldOnTime, cfg.FieldOnTime},
		{eepromLPCDThreshold, cfg.Threshold},
		{eepromLPCDRefvalGPOControl, mode},
		{eepromLPCDGPOToggleBefore, cfg.GPOToggleBefore},
		{eepromLPCDGPOToggleAfter, cfg.GPOToggleAfter},
	}
	for _, param := range params {
		if err := d.WriteEEPROMContext(ctx, param.addr, []byte{param.value}); err != nil {
			return err
		}
		buf, err := d.ReadEEPROMContext(ctx, param.addr, 1)
		if err != nil {
			return err
		}
		if buf[0] != param.value {
			return d.wrapError(fmt.Errorf("lpcd parameter %#02x reads back %#02x, wrote %#02x: %w",
				param.addr, buf[0], param.value, ErrCommandFailed))
		}
	}
	// let the EEPROM writes settle
	return sleepContext(ctx, 100*time.Millisecond)
}
