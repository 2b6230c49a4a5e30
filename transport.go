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

	"github.com/ZaparooProject/go-pn5180/internal/syncutil"
)

// Transport defines the host interface to a PN5180 front-end. Every
// command frame is delivered with Send and every response is collected
// with Receive; each call is one complete BUSY-handshaked bus
// transaction.
type Transport interface {
	// Send writes one command frame to the chip.
	Send(data []byte) error

	// Receive reads exactly len(buf) response bytes from the chip.
	Receive(buf []byte) error

	// Reset pulses the hardware reset line and waits for the chip to
	// come back up.
	Reset() error

	// Close releases the underlying bus and GPIO resources.
	Close() error

	// SetTimeout bounds how long Send and Receive wait for the BUSY
	// line before giving up.
	SetTimeout(timeout time.Duration) error

	// IsConnected reports whether the transport currently has a usable
	// connection to the chip.
	IsConnected() bool

	// Type returns the transport type identifier.
	Type() TransportType
}

// ContextTransport extends Transport with context-aware variants.
// Transports that support cancellation implement this interface;
// callers fall back to the deadline-based methods otherwise.
type ContextTransport interface {
	Transport

	// SendContext is like Send but honors context cancellation while
	// waiting on the BUSY line.
	SendContext(ctx context.Context, data []byte) error

	// ReceiveContext is like Receive but honors context cancellation.
	ReceiveContext(ctx context.Context, buf []byte) error
}

// TransportType identifies the transport type
type TransportType string

const (
	// TransportSPI is the native PN5180 host interface.
	TransportSPI TransportType = "spi"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// sendContext dispatches to SendContext when the transport supports it.
func sendContext(ctx context.Context, t Transport, data []byte) error {
	if ct, ok := t.(ContextTransport); ok {
		return ct.SendContext(ctx, data)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send canceled: %w", err)
	}
	return t.Send(data)
}

// receiveContext dispatches to ReceiveContext when the transport
// supports it.
func receiveContext(ctx context.Context, t Transport, buf []byte) error {
	if ct, ok := t.(ContextTransport); ok {
		return ct.ReceiveContext(ctx, buf)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("receive canceled: %w", err)
	}
	return t.Receive(buf)
}

// TransportWithRetry wraps a Transport with retry logic
type TransportWithRetry struct {
	transport   Transport
	retryConfig *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport:   transport,
		retryConfig: config,
	}
}

// Send writes a frame with retry logic.
func (t *TransportWithRetry) Send(data []byte) error {
	return RetryWithConfig(context.Background(), t.retryConfig, func() error {
		return t.transport.Send(data)
	})
}

// Receive reads a response with retry logic.
func (t *TransportWithRetry) Receive(buf []byte) error {
	return RetryWithConfig(context.Background(), t.retryConfig, func() error {
		return t.transport.Receive(buf)
	})
}

// SendContext writes a frame with retry logic under the caller's
// context.
func (t *TransportWithRetry) SendContext(ctx context.Context, data []byte) error {
	return RetryWithConfig(ctx, t.retryConfig, func() error {
		return sendContext(ctx, t.transport, data)
	})
}

// ReceiveContext reads a response with retry logic under the caller's
// context.
func (t *TransportWithRetry) ReceiveContext(ctx context.Context, buf []byte) error {
	return RetryWithConfig(ctx, t.retryConfig, func() error {
		return receiveContext(ctx, t.transport, buf)
	})
}

// Reset delegates to the wrapped transport. Reset is not retried: a
// failed reset leaves the chip in an unknown state that a blind retry
// cannot fix.
func (t *TransportWithRetry) Reset() error {
	return t.transport.Reset()
}

// Close closes the underlying transport
func (t *TransportWithRetry) Close() error {
	return t.transport.Close()
}

// SetTimeout sets the timeout on the underlying transport
func (t *TransportWithRetry) SetTimeout(timeout time.Duration) error {
	return t.transport.SetTimeout(timeout)
}

// IsConnected returns the connection status of the underlying transport
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the type of the underlying transport
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// MockTransport implements Transport for testing. Frames written with
// Send are recorded, and each Receive pops the next queued response.
type MockTransport struct {
	sendErr    error
	receiveErr error
	sent       [][]byte
	responses  [][]byte
	mu         syncutil.RWMutex
	timeout    time.Duration
	connected  bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   500 * time.Millisecond,
	}
}

// QueueResponse queues a response frame to be returned by the next
// Receive call.
func (m *MockTransport) QueueResponse(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.responses = append(m.responses, buf)
}

// SetSendError makes every subsequent Send return err.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetReceiveError makes every subsequent Receive return err.
func (m *MockTransport) SetReceiveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveErr = err
}

// SentFrames returns copies of all frames written so far.
func (m *MockTransport) SentFrames() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.sent))
	for i, f := range m.sent {
		out[i] = make([]byte, len(f))
		copy(out[i], f)
	}
	return out
}

// LastSent returns the most recently written frame, or nil.
func (m *MockTransport) LastSent() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sent) == 0 {
		return nil
	}
	f := m.sent[len(m.sent)-1]
	out := make([]byte, len(f))
	copy(out, f)
	return out
}

// Send records the frame.
func (m *MockTransport) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrTransportClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.sent = append(m.sent, buf)
	return nil
}

// Receive pops the next queued response into buf. Short responses are
// zero-padded; queue underflow returns a read error.
func (m *MockTransport) Receive(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrTransportClosed
	}
	if m.receiveErr != nil {
		return m.receiveErr
	}
	if len(m.responses) == 0 {
		return NewTransportReadError("receive", "mock")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, resp)
	return nil
}

// Reset clears the recorded state.
func (m *MockTransport) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.responses = nil
	return nil
}

// Close marks the transport as disconnected.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// SetTimeout records the timeout.
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

// IsConnected reports whether Close has been called.
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type returns TransportMock.
func (m *MockTransport) Type() TransportType {
	return TransportMock
}
