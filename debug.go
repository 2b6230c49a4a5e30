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
	"os"
	"time"
)

// debugEnabled gates console output of driver internals: command
// frames, register writes, BUSY handshake timing.
var debugEnabled = false

func init() {
	// Enable debug logging if DEBUG environment variable is set
	if os.Getenv("PN5180_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf records a formatted driver trace line, typically a command
// frame or register access. It always goes to the session log (if one
// is open) with a timestamp, and to the console only when debug mode
// is enabled.
func Debugf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)

	// Always write to session log with timestamp
	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", timestamp, message)
	}

	// Only print to console if debug enabled
	if debugEnabled {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

// Debugln is Debugf for pre-formed arguments. It follows the same
// session-log and console rules.
func Debugln(args ...any) {
	message := fmt.Sprint(args...)

	// Always write to session log with timestamp
	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", timestamp, message)
	}

	// Only print to console if debug enabled
	if debugEnabled {
		_, _ = fmt.Print("DEBUG: ")
		_, _ = fmt.Println(args...)
	}
}

// SetDebugEnabled toggles console tracing at runtime, overriding the
// PN5180_DEBUG / DEBUG environment variables.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
