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
	"errors"
	"testing"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	simtest "github.com/ZaparooProject/go-pn5180/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSleep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		elapsed      time.Duration
		pollInterval time.Duration
		enabled      bool
		want         bool
	}{
		{
			name:         "normal poll cadence",
			elapsed:      300 * time.Millisecond,
			pollInterval: 250 * time.Millisecond,
			enabled:      true,
			want:         false,
		},
		{
			name:         "long gap indicates sleep",
			elapsed:      10 * time.Second,
			pollInterval: 250 * time.Millisecond,
			enabled:      true,
			want:         true,
		},
		{
			name:         "exactly at threshold is not sleep",
			elapsed:      2*time.Second + 250*time.Millisecond,
			pollInterval: 250 * time.Millisecond,
			enabled:      true,
			want:         false,
		},
		{
			name:         "disabled never detects",
			elapsed:      time.Hour,
			pollInterval: 250 * time.Millisecond,
			enabled:      false,
			want:         false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultSleepRecoveryConfig()
			cfg.Enabled = tt.enabled
			assert.Equal(t, tt.want, cfg.DetectSleep(tt.elapsed, tt.pollInterval))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 600*time.Millisecond, cfg.CardRemovalTimeout)
	assert.True(t, cfg.Vicinity)
	assert.True(t, cfg.Proximity)
	assert.True(t, cfg.SleepRecovery.Enabled)
}

func TestDefaultRecovererResetsChip(t *testing.T) {
	t.Parallel()

	sim := simtest.NewVirtualPN5180()
	device, err := pn5180.New(sim, pn5180.WithoutRetry())
	require.NoError(t, err)

	recoverer := NewDefaultRecoverer(device, nil, time.Millisecond, 3)
	require.NoError(t, recoverer.AttemptRecovery(context.Background()))
	assert.Same(t, device, recoverer.GetDevice())
}

func TestDefaultRecovererReopensOnResetFailure(t *testing.T) {
	t.Parallel()

	sim := simtest.NewVirtualPN5180()
	require.NoError(t, sim.Close())
	device, err := pn5180.New(sim, pn5180.WithoutRetry())
	require.NoError(t, err)

	replacement := simtest.NewVirtualPN5180()
	replacementDevice, err := pn5180.New(replacement, pn5180.WithoutRetry())
	require.NoError(t, err)

	recoverer := NewDefaultRecoverer(device, func() (*pn5180.Device, error) {
		return replacementDevice, nil
	}, time.Millisecond, 3)

	require.NoError(t, recoverer.AttemptRecovery(context.Background()))
	assert.Same(t, replacementDevice, recoverer.GetDevice())
}

func TestDefaultRecovererReturnsLastError(t *testing.T) {
	t.Parallel()

	sim := simtest.NewVirtualPN5180()
	require.NoError(t, sim.Close())
	device, err := pn5180.New(sim, pn5180.WithoutRetry())
	require.NoError(t, err)

	reopenErr := errors.New("no such bus")
	recoverer := NewDefaultRecoverer(device, func() (*pn5180.Device, error) {
		return nil, reopenErr
	}, time.Millisecond, 2)

	err = recoverer.AttemptRecovery(context.Background())
	require.ErrorIs(t, err, reopenErr)
}

func TestDefaultRecovererHonorsContext(t *testing.T) {
	t.Parallel()

	sim := simtest.NewVirtualPN5180()
	require.NoError(t, sim.Close())
	device, err := pn5180.New(sim, pn5180.WithoutRetry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recoverer := NewDefaultRecoverer(device, func() (*pn5180.Device, error) {
		return nil, errors.New("unreachable")
	}, 50*time.Millisecond, 5)

	err = recoverer.AttemptRecovery(ctx)
	require.ErrorIs(t, err, context.Canceled)
}