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

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.CardRemovalTimeout = 30 * time.Millisecond
	return cfg
}

func newSimSession(t *testing.T, cfg *Config) (*Session, *simtest.VirtualPN5180) {
	t.Helper()
	sim := simtest.NewVirtualPN5180()
	device, err := pn5180.New(sim, pn5180.WithoutRetry())
	require.NoError(t, err)
	return NewSession(device, cfg), sim
}

func vicinityUID(first byte) pn5180.UID {
	return pn5180.UID{first, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x04, 0xE0}
}

func TestSessionDetectsVicinityCard(t *testing.T) {
	t.Parallel()

	session, sim := newSimSession(t, testConfig())
	sim.AddVicinityTag(simtest.NewVicinityTag(vicinityUID(0x01), 8, 4))

	detected := make(chan *DetectedCard, 1)
	session.OnCardDetected = func(card *DetectedCard) error {
		select {
		case detected <- card:
		default:
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	select {
	case card := <-detected:
		assert.Equal(t, ProtocolVicinity, card.Protocol)
		assert.Equal(t, vicinityUID(0x01).String(), card.UID)
		assert.Equal(t, vicinityUID(0x01), card.VicinityUID)
	case <-time.After(time.Second):
		t.Fatal("card was never detected")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, session.Close())
}

func TestSessionDetectsProximityCard(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Vicinity = false
	session, sim := newSimSession(t, cfg)
	sim.SetProximityTag(simtest.NewProximityTag([]byte{0x04, 0x7F, 0x12, 0x34, 0x56, 0x78, 0x9A}))

	detected := make(chan *DetectedCard, 1)
	session.OnCardDetected = func(card *DetectedCard) error {
		select {
		case detected <- card:
		default:
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	select {
	case card := <-detected:
		assert.Equal(t, ProtocolProximity, card.Protocol)
		assert.Equal(t, "047F123456789A", card.UID)
	case <-time.After(time.Second):
		t.Fatal("card was never detected")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, session.Close())
}

func TestSessionReportsCardRemoval(t *testing.T) {
	t.Parallel()

	session, sim := newSimSession(t, testConfig())
	sim.AddVicinityTag(simtest.NewVicinityTag(vicinityUID(0x02), 8, 4))

	detected := make(chan struct{}, 1)
	removed := make(chan struct{}, 1)
	session.OnCardDetected = func(*DetectedCard) error {
		select {
		case detected <- struct{}{}:
		default:
		}
		return nil
	}
	session.OnCardRemoved = func() {
		select {
		case removed <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	select {
	case <-detected:
	case <-time.After(time.Second):
		t.Fatal("card was never detected")
	}

	sim.RemoveVicinityTags()

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("removal was never reported")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, session.Close())
}

func TestSessionReportsCardChange(t *testing.T) {
	t.Parallel()

	session, sim := newSimSession(t, testConfig())
	sim.AddVicinityTag(simtest.NewVicinityTag(vicinityUID(0x03), 8, 4))

	detected := make(chan string, 4)
	changed := make(chan string, 4)
	session.OnCardDetected = func(card *DetectedCard) error {
		select {
		case detected <- card.UID:
		default:
		}
		return nil
	}
	session.OnCardChanged = func(card *DetectedCard) error {
		select {
		case changed <- card.UID:
		default:
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	select {
	case uid := <-detected:
		assert.Equal(t, vicinityUID(0x03).String(), uid)
	case <-time.After(time.Second):
		t.Fatal("card was never detected")
	}

	// Swap in a different card without an empty-field gap
	sim.RemoveVicinityTags()
	sim.AddVicinityTag(simtest.NewVicinityTag(vicinityUID(0x04), 8, 4))

	select {
	case uid := <-changed:
		assert.Equal(t, vicinityUID(0x04).String(), uid)
	case <-time.After(time.Second):
		t.Fatal("card change was never reported")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, session.Close())
}

func TestSessionCallbackErrorStopsPolling(t *testing.T) {
	t.Parallel()

	session, sim := newSimSession(t, testConfig())
	sim.AddVicinityTag(simtest.NewVicinityTag(vicinityUID(0x05), 8, 4))

	callbackErr := errors.New("callback failed")
	session.OnCardDetected = func(*DetectedCard) error {
		return callbackErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := session.Start(ctx)
	require.ErrorIs(t, err, callbackErr)
	require.NoError(t, session.Close())
}

func TestWithPausedPollingAccessesDevice(t *testing.T) {
	t.Parallel()

	session, sim := newSimSession(t, testConfig())
	tag := simtest.NewVicinityTag(vicinityUID(0x06), 8, 4)
	sim.AddVicinityTag(tag)

	detected := make(chan struct{}, 1)
	session.OnCardDetected = func(*DetectedCard) error {
		select {
		case detected <- struct{}{}:
		default:
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Start(ctx) }()

	select {
	case <-detected:
	case <-time.After(time.Second):
		t.Fatal("card was never detected")
	}

	err := session.WithPausedPolling(ctx, ctx, func(opCtx context.Context, device *pn5180.Device) error {
		vicinity := device.ISO15693()
		if err := vicinity.WriteSingleBlockContext(opCtx, vicinityUID(0x06), 3, []byte{1, 2, 3, 4}); err != nil {
			return err
		}
		data, err := vicinity.ReadSingleBlockContext(opCtx, vicinityUID(0x06), 3, 4)
		if err != nil {
			return err
		}
		assert.Equal(t, []byte{1, 2, 3, 4}, data)
		return nil
	})
	require.NoError(t, err)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, session.Close())
}

func TestSessionPauseResumeWithoutLoop(t *testing.T) {
	t.Parallel()

	session, _ := newSimSession(t, testConfig())

	// Pause and resume must be safe with no polling loop running
	session.Pause()
	session.Resume()
	session.Pause()
	require.NoError(t, session.Close())
}

func TestProtocolString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ISO15693", ProtocolVicinity.String())
	assert.Equal(t, "ISO14443-A", ProtocolProximity.String())
	assert.Equal(t, "unknown", Protocol(42).String())
}
