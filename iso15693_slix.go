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

// NXP ICODE SLIX custom commands. Passwords never travel in the clear:
// the card hands out a random number first and the password is XORed
// with it on the wire.

import (
	"context"
	"fmt"
)

const (
	slixCmdGetRandomNumber byte = 0xB2
	slixCmdSetPassword     byte = 0xB3
	slixCmdEnablePrivacy   byte = 0xBA

	// slixManufacturer is the IC manufacturer code required by the
	// custom command set.
	slixManufacturer byte = 0x04

	// SlixPasswordPrivacy selects the privacy password in SetPassword.
	SlixPasswordPrivacy byte = 0x04
)

// GetRandomNumber asks a SLIX card for the 16-bit random number used to
// mask password transfers.
func (p *ISO15693) GetRandomNumber() ([2]byte, error) {
	return p.GetRandomNumberContext(context.Background())
}

// GetRandomNumberContext is like GetRandomNumber but honors context
// cancellation.
func (p *ISO15693) GetRandomNumberContext(ctx context.Context) ([2]byte, error) {
	cmd := []byte{iso15693FlagDataRate, slixCmdGetRandomNumber, slixManufacturer}
	resp, err := p.transceive(ctx, "get random number", cmd)
	if err != nil {
		return [2]byte{}, err
	}
	if len(resp) < 3 {
		return [2]byte{}, p.d.wrapError(fmt.Errorf("get random number: response length %d: %w",
			len(resp), ErrInvalidResponse))
	}
	return [2]byte{resp[1], resp[2]}, nil
}

// SetPassword transmits a masked password to the card. identifier
// selects which of the card's passwords is being presented.
func (p *ISO15693) SetPassword(identifier byte, password [4]byte, random [2]byte) error {
	return p.SetPasswordContext(context.Background(), identifier, password, random)
}

// SetPasswordContext is like SetPassword but honors context
// cancellation.
func (p *ISO15693) SetPasswordContext(ctx context.Context, identifier byte, password [4]byte, random [2]byte) error {
	cmd := []byte{
		iso15693FlagDataRate, slixCmdSetPassword, slixManufacturer,
		identifier,
		password[0] ^ random[0],
		password[1] ^ random[1],
		password[2] ^ random[0],
		password[3] ^ random[1],
	}
	_, err := p.transceive(ctx, "set password", cmd)
	return err
}

// enablePrivacy sends the masked privacy password, locking the card.
func (p *ISO15693) enablePrivacy(ctx context.Context, password [4]byte, random [2]byte) error {
	cmd := []byte{
		iso15693FlagDataRate, slixCmdEnablePrivacy, slixManufacturer,
		password[0] ^ random[0],
		password[1] ^ random[1],
		password[2] ^ random[0],
		password[3] ^ random[1],
	}
	_, err := p.transceive(ctx, "enable privacy", cmd)
	return err
}

// EnablePrivacyMode puts a SLIX card into privacy mode. A card in
// privacy mode answers only GetRandomNumber and SetPassword until the
// correct privacy password is presented again.
func (p *ISO15693) EnablePrivacyMode(password [4]byte) error {
	return p.EnablePrivacyModeContext(context.Background(), password)
}

// EnablePrivacyModeContext is like EnablePrivacyMode but honors context
// cancellation.
func (p *ISO15693) EnablePrivacyModeContext(ctx context.Context, password [4]byte) error {
	random, err := p.GetRandomNumberContext(ctx)
	if err != nil {
		return err
	}
	return p.enablePrivacy(ctx, password, random)
}

// DisablePrivacyMode unlocks a SLIX card by presenting its privacy
// password.
func (p *ISO15693) DisablePrivacyMode(password [4]byte) error {
	return p.DisablePrivacyModeContext(context.Background(), password)
}

// DisablePrivacyModeContext is like DisablePrivacyMode but honors
// context cancellation.
func (p *ISO15693) DisablePrivacyModeContext(ctx context.Context, password [4]byte) error {
	random, err := p.GetRandomNumberContext(ctx)
	if err != nil {
		return err
	}
	return p.SetPasswordContext(ctx, SlixPasswordPrivacy, password, random)
}
