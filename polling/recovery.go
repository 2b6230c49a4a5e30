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

package polling

import (
	"context"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// DeviceRecoverer handles device recovery after sleep/wake or errors
type DeviceRecoverer interface {
	// AttemptRecovery tries to recover the device connection.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context) error

	// GetDevice returns the current device reference (may change after reconnection)
	GetDevice() *pn5180.Device
}

// ReopenFunc is a function that attempts to reopen/reconnect the device
type ReopenFunc func() (*pn5180.Device, error)

// DefaultRecoverer implements a tiered recovery strategy:
// 1. Chip reset through the transport's reset line
// 2. Full reconnection via user-provided reopen function
type DefaultRecoverer struct {
	device      *pn5180.Device
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer with tiered recovery strategy.
// If reopenFunc is nil, only the chip reset will be attempted.
func NewDefaultRecoverer(
	device *pn5180.Device,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		device:      device,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery implements tiered recovery:
// 1. Try a chip reset - works if the bus is still valid
// 2. If that fails and reopenFunc is provided, try full reconnection
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		// Tier 1: chip reset, leaves the RF field down and IRQs cleared
		err := r.device.Reset()
		if err == nil {
			return nil
		}
		lastErr = err

		// Tier 2: full reconnection (if reopenFunc provided)
		if r.reopenFunc != nil {
			_ = r.device.Close()
			newDevice, reopenErr := r.reopenFunc()
			if reopenErr == nil {
				r.device = newDevice
				return nil
			}
			lastErr = reopenErr
		}
	}

	return lastErr
}

// GetDevice returns the current device reference.
// This may return a different device after a successful reconnection.
func (r *DefaultRecoverer) GetDevice() *pn5180.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}
