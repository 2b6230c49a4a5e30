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
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"
)

// Error categories for error handling and retry logic
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrBusyTimeout      = errors.New("BUSY handshake did not complete in time")

	// Protocol-cycle errors
	ErrNoCard       = errors.New("no card responded")
	ErrInvalidState = errors.New("transceiver not in required state")

	// Device errors - generally not retryable
	ErrCommandFailed   = errors.New("command execution failed")
	ErrInvalidResponse = errors.New("invalid response format")

	// Data errors - not retryable
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDataTooLarge     = errors.New("data too large")
	ErrBlockOutOfRange  = errors.New("block range exceeds tag capacity")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ISO15693 error codes reported by a VICC in an error response frame
// (ISO15693-3 Table 7). Codes 0xA0-0xDF are reserved for custom commands.
const (
	ISO15693ErrNotSupported       byte = 0x01
	ISO15693ErrNotRecognized      byte = 0x02
	ISO15693ErrOptionNotSupported byte = 0x03
	ISO15693ErrUnknown            byte = 0x0F
	ISO15693ErrBlockNotAvailable  byte = 0x10
	ISO15693ErrBlockAlreadyLocked byte = 0x11
	ISO15693ErrBlockIsLocked      byte = 0x12
	ISO15693ErrBlockNotProgrammed byte = 0x13
	ISO15693ErrBlockNotLocked     byte = 0x14
)

// ISO15693Error is a protocol-level error reported by the card itself:
// the response flags byte had the error bit set and the payload carried
// one of the ISO15693-3 error codes.
type ISO15693Error struct {
	Command string
	Code    byte
}

func (e *ISO15693Error) Error() string {
	return fmt.Sprintf("%s: card error 0x%02X (%s)", e.Command, e.Code, iso15693ErrorCodeMeaning(e.Code))
}

// IsCustom reports whether the code is in the custom-command range
// (0xA0-0xDF), whose meaning is defined by the card vendor.
func (e *ISO15693Error) IsCustom() bool {
	return e.Code >= 0xA0 && e.Code <= 0xDF
}

// iso15693ErrorCodeMeaning returns a human-readable meaning for the fixed
// ISO15693-3 error code taxonomy.
func iso15693ErrorCodeMeaning(code byte) string {
	meanings := map[byte]string{
		ISO15693ErrNotSupported:       "command not supported",
		ISO15693ErrNotRecognized:      "command not recognized",
		ISO15693ErrOptionNotSupported: "option not supported",
		ISO15693ErrUnknown:            "unknown error",
		ISO15693ErrBlockNotAvailable:  "block not available",
		ISO15693ErrBlockAlreadyLocked: "block already locked",
		ISO15693ErrBlockIsLocked:      "block is locked",
		ISO15693ErrBlockNotProgrammed: "block not programmed",
		ISO15693ErrBlockNotLocked:     "block not locked",
	}
	if m, ok := meanings[code]; ok {
		return m
	}
	if code >= 0xA0 && code <= 0xDF {
		return "custom command error"
	}
	return "undefined error code"
}

// NewISO15693Error creates a card protocol error for the given command.
func NewISO15693Error(code byte, command string) *ISO15693Error {
	return &ISO15693Error{Code: code, Command: command}
}

// IsNoCard reports whether the error means no tag answered an activation
// attempt. This is the expected case when the field is empty, not a
// hardware failure.
func IsNoCard(err error) bool {
	return errors.Is(err, ErrNoCard)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	// Card protocol errors are deterministic; retrying the same frame
	// yields the same answer.
	var pe *ISO15693Error
	if errors.As(err, &pe) {
		return false
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrBusyTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrNoCard):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/connection is
// gone and polling should stop entirely. This is distinct from
// IsRetryable which indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// isDeviceGoneError checks for OS-level errors indicating the SPI device
// node vanished underneath us.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}
	}

	return false
}

// Error constructors for consistent error creation

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewBusyTimeoutError creates a BUSY-handshake timeout error
func NewBusyTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrBusyTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewInvalidResponseError creates an invalid response error (permanent)
func NewInvalidResponseError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrInvalidResponse, ErrorTypePermanent)
}

// NewDataTooLargeError creates a data too large error (permanent)
func NewDataTooLargeError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrDataTooLarge, ErrorTypePermanent)
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds wire-level trace data in errors, allowing consumer
// applications to access debug information when operations fail.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the PN5180
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the PN5180
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
// Consumer applications can use errors.As() to extract trace information:
//
//	var te *pn5180.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = sb.WriteString(fmt.Sprintf("[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace)))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		hexData := formatHexBytes(entry.Data)
		if entry.Note != "" {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", direction, hexData, entry.Note))
		} else {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s\n", direction, hexData))
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if len(data) > 32 {
		// Truncate long data with ellipsis
		parts := make([]string, 32)
		for i := 0; i < 32; i++ {
			parts[i] = fmt.Sprintf("%02X", data[i])
		}
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// TraceBuffer collects trace entries during a command operation.
// It uses a fixed-size circular buffer to limit memory usage.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16 // Default to 16 entries
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records a transmission to the PN5180
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the PN5180
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	// Make a copy of data to avoid aliasing issues
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		// Shift entries to make room (evict oldest)
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:       err,
		Trace:     entriesCopy,
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
