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

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for transport operations
	RetryConfig *RetryConfig
	// Timeout bounds IRQ polling loops and card response waits
	Timeout time.Duration
	// IRQPollInterval is the delay between IRQ_STATUS reads while
	// waiting for an event
	IRQPollInterval time.Duration
}

// DefaultDeviceConfig returns default device configuration. No
// RetryConfig is set: a failed bus transaction surfaces to the caller
// unless retries are opted into with WithRetryConfig or WithMaxRetries.
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Timeout:         500 * time.Millisecond,
		IRQPollInterval: 1 * time.Millisecond,
	}
}

// Device represents a PN5180 NFC frontend
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. The scratch
// buffers below are reused across commands; for concurrent access, wrap the
// Device with a mutex or use separate Device instances with separate
// transports.
type Device struct {
	transport Transport
	config    *DeviceConfig
	trace     *TraceBuffer

	// cmdBuf holds the frame under construction for the current
	// command: one opcode byte, one parameter byte and up to 260
	// payload bytes.
	cmdBuf [262]byte
	// rxBuf backs ReadData and ReadEEPROM responses. Views into it
	// returned to callers stay valid only until the next data command.
	rxBuf [maxReadLen]byte
	// rxSmall backs register and status reads so they never collide
	// with rxBuf views held by the caller.
	rxSmall [smallReadLen]byte
}

// New creates a new PN5180 device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	if device.config.RetryConfig != nil && device.config.RetryConfig.MaxAttempts > 1 {
		device.transport = NewTransportWithRetry(device.transport, device.config.RetryConfig)
	}

	return device, nil
}

// Transport returns the transport the device talks through.
func (d *Device) Transport() Transport {
	return d.transport
}

// SetTimeout changes the command timeout for IRQ polls and card waits.
func (d *Device) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidParameter)
	}
	d.config.Timeout = timeout
	return d.transport.SetTimeout(timeout)
}

// Timeout returns the current command timeout.
func (d *Device) Timeout() time.Duration {
	return d.config.Timeout
}

// EnableTracing attaches a wire trace buffer holding the last maxSize
// exchanges. Errors returned after this call carry the trace; retrieve
// it with GetTrace.
func (d *Device) EnableTracing(maxSize int) {
	d.trace = NewTraceBuffer(string(d.transport.Type()), "pn5180", maxSize)
}

// wrapError attaches the wire trace to err when tracing is enabled.
func (d *Device) wrapError(err error) error {
	if err == nil || d.trace == nil {
		return err
	}
	return d.trace.WrapError(err)
}

// Close releases the transport.
func (d *Device) Close() error {
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Reset performs a hardware reset and waits for the chip to report
// idle. All pending IRQ flags are cleared afterwards.
func (d *Device) Reset() error {
	return d.ResetContext(context.Background())
}

// ResetContext is like Reset but honors context cancellation.
func (d *Device) ResetContext(ctx context.Context) error {
	if err := d.transport.Reset(); err != nil {
		return d.wrapError(fmt.Errorf("hardware reset failed: %w", err))
	}

	// The chip raises IDLE once its boot sequence finishes.
	if _, err := d.waitForIRQ(ctx, irqIdle); err != nil {
		return d.wrapError(fmt.Errorf("chip did not come up after reset: %w", err))
	}

	if err := d.ClearIRQStatusContext(ctx, irqAll); err != nil {
		return d.wrapError(err)
	}
	return nil
}

// waitForIRQ polls IRQ_STATUS until any bit in mask is set or the
// command timeout elapses. It returns the full IRQ status word from the
// last read.
func (d *Device) waitForIRQ(ctx context.Context, mask uint32) (uint32, error) {
	deadline := time.Now().Add(d.config.Timeout)
	for {
		status, err := d.GetIRQStatusContext(ctx)
		if err != nil {
			return 0, err
		}
		if status&mask != 0 {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, NewTimeoutError("irq-wait", string(d.transport.Type()))
		}
		if err := sleepContext(ctx, d.config.IRQPollInterval); err != nil {
			return status, err
		}
	}
}

// sleepContext pauses for d or until ctx is canceled.
func sleepContext(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
