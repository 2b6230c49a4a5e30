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
	"io"
	"os"
	"runtime"
	"strings"
	"time"
)

// Session log state
var (
	sessionLogFile   *os.File
	sessionLogPath   string
	sessionLogWriter io.Writer
)

// InitSessionLog starts a timestamped trace file (pn5180_*.log) in the
// current directory; every Debugf line lands there until the log is
// closed. Returns the file path for display to the user.
func InitSessionLog() (string, error) {
	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("pn5180_%s.log", timestamp)

	// Create log file in current directory
	logFile, err := os.Create(filename) //nolint:gosec // filename is constructed internally, not user input
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	sessionLogFile = logFile
	sessionLogPath = filename
	sessionLogWriter = logFile

	// Write session header
	writeSessionHeader(logFile)

	return filename, nil
}

// CloseSessionLog closes the current session log file.
func CloseSessionLog() error {
	if sessionLogFile != nil {
		// Write session footer
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "\n%s === Session ended ===\n", timestamp)

		err := sessionLogFile.Close()
		sessionLogFile = nil
		sessionLogPath = ""
		sessionLogWriter = nil
		if err != nil {
			return fmt.Errorf("failed to close session log: %w", err)
		}
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	return sessionLogPath
}

// writeSessionHeader writes metadata about the session to the log file.
func writeSessionHeader(writer io.Writer) {
	_, _ = fmt.Fprint(writer, "=== PN5180 Debug Session Log ===\n")
	_, _ = fmt.Fprintf(writer, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(writer, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(writer, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(writer, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(writer, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(writer, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(writer, "================================\n\n")
}
