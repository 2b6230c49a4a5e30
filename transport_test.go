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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransport_RecordsFramesAndPopsResponses(t *testing.T) {
	t.Parallel()
	mock := NewMockTransport()

	require.NoError(t, mock.Send([]byte{0x04, 0x02}))
	require.NoError(t, mock.Send([]byte{0x16, 0x00}))

	frames := mock.SentFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x04, 0x02}, frames[0])
	assert.Equal(t, []byte{0x16, 0x00}, mock.LastSent())

	mock.QueueResponse([]byte{0xAA})
	buf := make([]byte, 4)
	require.NoError(t, mock.Receive(buf))
	assert.Equal(t, []byte{0xAA, 0x00, 0x00, 0x00}, buf, "short responses are zero-padded")

	err := mock.Receive(buf)
	require.ErrorIs(t, err, ErrTransportRead, "queue underflow is a read error")
}

func TestMockTransport_Close(t *testing.T) {
	t.Parallel()
	mock := NewMockTransport()
	require.NoError(t, mock.Close())

	assert.False(t, mock.IsConnected())
	require.ErrorIs(t, mock.Send([]byte{0x00}), ErrTransportClosed)
	require.ErrorIs(t, mock.Receive(make([]byte, 1)), ErrTransportClosed)
}

// flakyTransport fails the first n sends, then delegates to the mock.
type flakyTransport struct {
	*MockTransport
	failures int
}

func (f *flakyTransport) Send(data []byte) error {
	if f.failures > 0 {
		f.failures--
		return NewTransportWriteError("send", "flaky")
	}
	return f.MockTransport.Send(data)
}

func TestTransportWithRetry_RecoversTransientSendErrors(t *testing.T) {
	t.Parallel()
	flaky := &flakyTransport{MockTransport: NewMockTransport(), failures: 2}
	wrapped := NewTransportWithRetry(flaky, &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      time.Second,
	})

	require.NoError(t, wrapped.Send([]byte{0x16, 0x00}))
	assert.Len(t, flaky.SentFrames(), 1)
}

func TestTransportWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	flaky := &flakyTransport{MockTransport: NewMockTransport(), failures: 10}
	wrapped := NewTransportWithRetry(flaky, &RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      time.Second,
	})

	err := wrapped.Send([]byte{0x16, 0x00})
	require.ErrorIs(t, err, ErrTransportWrite)
	assert.Empty(t, flaky.SentFrames())
}

func TestTransportWithRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	mock := NewMockTransport()
	permanent := errors.New("bus torn down")
	mock.SetSendError(NewTransportError("send", "mock", permanent, ErrorTypePermanent))

	attempts := 0
	inner := transportFunc{mock: mock, onSend: func() { attempts++ }}
	wrapped := NewTransportWithRetry(&inner, DefaultRetryConfig())

	err := wrapped.Send([]byte{0x00})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// transportFunc counts sends on top of a mock.
type transportFunc struct {
	mock   *MockTransport
	onSend func()
}

func (tf *transportFunc) Send(data []byte) error {
	tf.onSend()
	return tf.mock.Send(data)
}
func (tf *transportFunc) Receive(buf []byte) error       { return tf.mock.Receive(buf) }
func (tf *transportFunc) Reset() error                   { return tf.mock.Reset() }
func (tf *transportFunc) Close() error                   { return tf.mock.Close() }
func (tf *transportFunc) SetTimeout(d time.Duration) error { return tf.mock.SetTimeout(d) }
func (tf *transportFunc) IsConnected() bool              { return tf.mock.IsConnected() }
func (tf *transportFunc) Type() TransportType            { return tf.mock.Type() }
