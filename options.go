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
	"fmt"
	"time"
)

// Option is a functional option for configuring the Device
type Option func(*Device) error

// WithTimeout sets the command timeout for IRQ polls and card waits
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrInvalidParameter)
		}
		d.config.Timeout = timeout
		return nil
	}
}

// WithRetryConfig sets the retry configuration for transport operations
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		d.config.RetryConfig = config
		return nil
	}
}

// WithMaxRetries sets only the maximum retry attempts, keeping the
// default backoff parameters
func WithMaxRetries(maxRetries int) Option {
	return func(d *Device) error {
		if maxRetries < 0 {
			return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidParameter)
		}
		if d.config.RetryConfig == nil {
			d.config.RetryConfig = DefaultRetryConfig()
		}
		d.config.RetryConfig.MaxAttempts = maxRetries
		return nil
	}
}

// WithoutRetry disables transport-level retries entirely
func WithoutRetry() Option {
	return func(d *Device) error {
		d.config.RetryConfig = nil
		return nil
	}
}

// WithIRQPollInterval sets the delay between IRQ_STATUS reads while
// waiting for a chip event
func WithIRQPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrInvalidParameter)
		}
		d.config.IRQPollInterval = interval
		return nil
	}
}

// WithTracing enables wire trace capture for the last maxSize exchanges
func WithTracing(maxSize int) Option {
	return func(d *Device) error {
		if maxSize <= 0 {
			return fmt.Errorf("%w: trace size must be positive", ErrInvalidParameter)
		}
		d.EnableTracing(maxSize)
		return nil
	}
}
