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
	"errors"
	"time"
)

// CardDetectionState represents the finite state machine for card detection
type CardDetectionState int

const (
	StateIdle CardDetectionState = iota
	StateCardDetected
	StateReading
)

// CardState tracks the state of the card currently in the field
type CardState struct {
	LastSeenTime   time.Time
	RemovalTimer   *time.Timer
	LastUID        string
	DetectionState CardDetectionState
	Present        bool
}

// ErrNoCardInPoll indicates no card was seen during a polling cycle (not an error condition)
var ErrNoCardInPoll = errors.New("no card detected in polling cycle")

// safeTimerStop safely stops a timer and drains its channel to prevent resource leaks
func safeTimerStop(timer *time.Timer) {
	if timer != nil {
		// Stop the timer first
		stopped := timer.Stop()
		// If Stop() returned false, the timer already fired and the value was sent to C
		// In that case, we need to drain the channel to prevent blocking
		if !stopped {
			select {
			case <-timer.C:
				// Timer fired, drained the channel
			default:
				// Timer was already drained or never fired
			}
		}
	}
}

// TransitionToReading moves to reading state and suspends the removal timer
func (cs *CardState) TransitionToReading() {
	cs.DetectionState = StateReading
	safeTimerStop(cs.RemovalTimer)
	cs.RemovalTimer = nil
}

// TransitionToDetected moves to card detected state with normal removal timeout
func (cs *CardState) TransitionToDetected(timeout time.Duration, callback func()) {
	cs.DetectionState = StateCardDetected
	cs.LastSeenTime = time.Now()
	safeTimerStop(cs.RemovalTimer)
	cs.RemovalTimer = time.AfterFunc(timeout, callback)
}

// TransitionToIdle resets to idle state
func (cs *CardState) TransitionToIdle() {
	cs.DetectionState = StateIdle
	cs.Present = false
	cs.LastUID = ""
	cs.LastSeenTime = time.Time{}
	safeTimerStop(cs.RemovalTimer)
	cs.RemovalTimer = nil
}
