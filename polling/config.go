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

import "time"

// SleepRecoveryConfig configures automatic recovery after host sleep/wake
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the expected
	// poll interval that indicates a sleep occurred. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before
	// treating as a fatal error. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since last poll indicates a system sleep.
// Returns true if elapsed time exceeds (pollInterval + TimeDiscontinuityThreshold).
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	expectedMax := pollInterval + cfg.TimeDiscontinuityThreshold
	return elapsed > expectedMax
}

// Config holds polling configuration options
type Config struct {
	PollInterval       time.Duration
	CardRemovalTimeout time.Duration
	// Vicinity enables ISO15693 inventory rounds in each polling cycle
	Vicinity bool
	// Proximity enables ISO14443 Type-A activation in each polling cycle
	Proximity bool
	// SleepRecovery configures automatic recovery after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       250 * time.Millisecond,
		CardRemovalTimeout: 600 * time.Millisecond,
		Vicinity:           true,
		Proximity:          true,
		SleepRecovery:      DefaultSleepRecoveryConfig(),
	}
}
