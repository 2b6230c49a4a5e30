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
	"fmt"
	"sync/atomic"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// Protocol identifies which RF protocol a detected card answered on.
type Protocol int

const (
	ProtocolVicinity Protocol = iota
	ProtocolProximity
)

// String returns a human-readable protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolVicinity:
		return "ISO15693"
	case ProtocolProximity:
		return "ISO14443-A"
	default:
		return "unknown"
	}
}

// DetectedCard describes a card seen during a polling cycle.
type DetectedCard struct {
	// UID is the card identifier in display form, used for change detection
	UID string
	// VicinityUID is the raw 64-bit identifier for vicinity cards
	VicinityUID pn5180.UID
	// ProximityUID is the raw 4- or 7-byte identifier for proximity cards
	ProximityUID []byte
	Protocol     Protocol
}

// Session handles continuous card monitoring with a removal-timer state machine
type Session struct {
	OnCardDetected func(card *DetectedCard) error
	OnCardRemoved  func()
	OnCardChanged  func(card *DetectedCard) error
	config         *Config
	device         *pn5180.Device
	recoverer      DeviceRecoverer
	pauseChan      chan struct{}
	resumeChan     chan struct{}
	ackChan        chan struct{}
	lastPoll       time.Time
	state          CardState
	stateMutex     syncutil.RWMutex
	writeMutex     syncutil.Mutex
	closed         atomic.Bool
	isPaused       atomic.Bool
}

// NewSession creates a new card monitoring session
func NewSession(device *pn5180.Device, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		device:     device,
		config:     config,
		state:      CardState{},
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
}

// SetRecoverer installs a DeviceRecoverer used after sleep/wake discontinuities.
// Without one, sleep detection is skipped.
func (s *Session) SetRecoverer(recoverer DeviceRecoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = recoverer
}

// Start begins continuous monitoring for cards
func (s *Session) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}

		if err := s.executePollingCycle(ctx); err != nil {
			return err
		}

		if err := s.waitForNextPollOrPause(ctx, ticker); err != nil {
			return err
		}
	}
}

// GetState returns the current card state
func (s *Session) GetState() CardState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// GetDevice returns the underlying PN5180 device
func (s *Session) GetDevice() *pn5180.Device {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.device
}

// Close cleans up the monitor resources
func (s *Session) Close() error {
	// Mark session as closed to prevent timer callbacks from executing
	s.closed.Store(true)

	// Stop any running removal timer
	s.stateMutex.Lock()
	if s.state.RemovalTimer != nil {
		safeTimerStop(s.state.RemovalTimer)
		s.state.RemovalTimer = nil
	}
	s.stateMutex.Unlock()

	// Reset pause state and drain channels to prevent corruption
	s.isPaused.Store(false)

	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case <-s.resumeChan:
	default:
	}

	return nil
}

// Pause temporarily stops the polling loop
// This is used to coordinate with direct card access
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		// Non-blocking send for when no loop is running
		select {
		case s.pauseChan <- struct{}{}:
		default:
		}
	}
}

// Resume restarts the polling loop after a pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// pauseWithAck pauses polling and waits for acknowledgment
func (s *Session) pauseWithAck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if s.isPaused.Load() {
		return nil
	}

	if !s.isPaused.CompareAndSwap(false, true) {
		return nil // Another goroutine beat us to it
	}

	select {
	case s.pauseChan <- struct{}{}:
		// Wait for acknowledgment with timeout; no ack means no loop is
		// running, which is fine since the pause flag is already set
		ackTimeout := time.NewTimer(100 * time.Millisecond)
		defer ackTimeout.Stop()

		select {
		case <-s.ackChan:
			return nil
		case <-ackTimeout.C:
			return nil
		case <-ctx.Done():
			s.isPaused.Store(false)
			return ctx.Err()
		}
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	default:
		return nil
	}
}

// WithPausedPolling pauses the polling loop, runs fn against the device,
// and resumes polling afterwards. Use this for block reads and writes so
// the poll cycle cannot interleave its own RF exchanges.
// sessionCtx controls session lifetime, opCtx controls the operation.
func (s *Session) WithPausedPolling(
	sessionCtx context.Context,
	opCtx context.Context,
	fn func(context.Context, *pn5180.Device) error,
) error {
	// Serialize direct access across goroutines
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.pauseWithAck(sessionCtx); err != nil {
		return fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	return fn(opCtx, s.GetDevice())
}

// executePollingCycle performs one polling cycle and processes results
func (s *Session) executePollingCycle(ctx context.Context) error {
	s.maybeRecoverFromSleep(ctx)

	card, err := s.performSinglePoll(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCardInPoll) {
			s.handlePollingError(err)
		}
		return nil
	}

	if err := s.processPollingResults(card); err != nil {
		return fmt.Errorf("callback error during polling: %w", err)
	}
	return nil
}

// maybeRecoverFromSleep resets the chip when the time since the previous
// poll indicates the host slept through one or more cycles.
func (s *Session) maybeRecoverFromSleep(ctx context.Context) {
	s.stateMutex.Lock()
	last := s.lastPoll
	s.lastPoll = time.Now()
	recoverer := s.recoverer
	s.stateMutex.Unlock()

	if last.IsZero() || recoverer == nil {
		return
	}
	if !s.config.SleepRecovery.DetectSleep(time.Since(last), s.config.PollInterval) {
		return
	}

	if err := recoverer.AttemptRecovery(ctx); err != nil {
		pn5180.Debugf("polling: sleep recovery failed: %v", err)
		return
	}

	s.stateMutex.Lock()
	s.device = recoverer.GetDevice()
	s.stateMutex.Unlock()
}

// performSinglePoll runs one detection attempt over the enabled protocols.
// Vicinity cards win when both protocols are enabled and answer.
func (s *Session) performSinglePoll(ctx context.Context) (*DetectedCard, error) {
	device := s.GetDevice()

	if s.config.Vicinity {
		card, err := s.pollVicinity(ctx, device)
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, ErrNoCardInPoll) {
			return nil, err
		}
	}

	if s.config.Proximity {
		card, err := s.pollProximity(ctx, device)
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, ErrNoCardInPoll) {
			return nil, err
		}
	}

	return nil, ErrNoCardInPoll
}

func (*Session) pollVicinity(ctx context.Context, device *pn5180.Device) (*DetectedCard, error) {
	vicinity := device.ISO15693()
	if err := vicinity.SetupRFContext(ctx); err != nil {
		return nil, fmt.Errorf("vicinity RF setup failed: %w", err)
	}

	uid, err := vicinity.InventoryContext(ctx)
	if err != nil {
		if pn5180.IsNoCard(err) {
			return nil, ErrNoCardInPoll
		}
		return nil, fmt.Errorf("vicinity inventory failed: %w", err)
	}

	return &DetectedCard{
		UID:         uid.String(),
		VicinityUID: uid,
		Protocol:    ProtocolVicinity,
	}, nil
}

func (*Session) pollProximity(ctx context.Context, device *pn5180.Device) (*DetectedCard, error) {
	proximity := device.ISO14443()
	if err := proximity.SetupRFContext(ctx); err != nil {
		return nil, fmt.Errorf("proximity RF setup failed: %w", err)
	}

	card, err := proximity.ActivateTypeAContext(ctx, pn5180.PollWUPA)
	if err != nil {
		if pn5180.IsNoCard(err) {
			return nil, ErrNoCardInPoll
		}
		return nil, fmt.Errorf("proximity activation failed: %w", err)
	}

	// Halt so the next WUPA cycle can re-activate the same card
	if err := proximity.MifareHaltContext(ctx); err != nil {
		return nil, fmt.Errorf("proximity halt failed: %w", err)
	}

	return &DetectedCard{
		UID:          fmt.Sprintf("%X", card.UID),
		ProximityUID: card.UID,
		Protocol:     ProtocolProximity,
	}, nil
}

// waitForNextPollOrPause waits for the next poll interval or handles pause signals
func (s *Session) waitForNextPollOrPause(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
		return s.waitForResume(ctx)
	default:
		return nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePollingError handles errors from polling operations
func (s *Session) handlePollingError(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		// Timeout is normal - timer will handle removal detection
		return
	}

	if errors.Is(err, context.Canceled) {
		return
	}

	// For serious device errors, trigger immediate card removal
	// This handles cases like bus disconnection
	s.handleCardRemoval()
}

// handleCardRemoval handles card removal state changes
func (s *Session) handleCardRemoval() {
	// Bail out if session is closed to prevent timer callbacks from executing after cleanup
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	// If we're in reading state, a new poll cycle is actively processing - ignore stale timer
	// This handles the edge case where timer.Stop() returned false (callback already spawned)
	// but the callback runs after TransitionToReading() released the lock
	if s.state.DetectionState == StateReading {
		s.stateMutex.Unlock()
		return
	}
	wasPresent := s.state.Present
	if wasPresent {
		s.state.TransitionToIdle()
	}
	onRemoved := s.OnCardRemoved
	s.stateMutex.Unlock()

	// Call callback outside the lock to avoid potential deadlocks
	if wasPresent && onRemoved != nil {
		onRemoved()
	}
}

// processPollingResults processes the detected card and returns any callback errors
func (s *Session) processPollingResults(card *DetectedCard) error {
	if card == nil {
		// No card detected - removal handled by timer, nothing to do here
		return nil
	}

	// Stop any existing removal timer and transition to reading state BEFORE
	// calling callbacks. This prevents the old timer from firing during
	// callback execution.
	s.stateMutex.Lock()
	s.state.TransitionToReading()
	wasPresent := s.state.Present
	changed := wasPresent && s.state.LastUID != card.UID
	isNew := !wasPresent
	s.state.Present = true
	s.state.LastUID = card.UID
	onDetected := s.OnCardDetected
	onChanged := s.OnCardChanged
	s.stateMutex.Unlock()

	var err error
	switch {
	case isNew && onDetected != nil:
		err = onDetected(card)
	case changed && onChanged != nil:
		err = onChanged(card)
	case changed && onDetected != nil:
		// No change callback installed, treat as a fresh detection
		err = onDetected(card)
	}
	if err != nil {
		return err
	}

	// After callbacks complete, arm the removal timer for this card
	s.stateMutex.Lock()
	s.state.TransitionToDetected(s.config.CardRemovalTimeout, func() {
		s.handleCardRemoval()
	})
	s.stateMutex.Unlock()

	return nil
}
