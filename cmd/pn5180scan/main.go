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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pn5180 "github.com/ZaparooProject/go-pn5180"
	"github.com/ZaparooProject/go-pn5180/polling"
	"github.com/ZaparooProject/go-pn5180/transport/spi"
	"periph.io/x/conn/v3/physic"
)

type config struct {
	port     string
	nss      string
	busy     string
	reset    string
	mode     string
	speedMHz int
	interval time.Duration
	debug    bool
	log      bool
}

// Package-level flag variables
var (
	flagPort     string
	flagNSS      string
	flagBusy     string
	flagReset    string
	flagMode     string
	flagSpeedMHz int
	flagInterval time.Duration
	flagDebug    bool
	flagLog      bool
)

func init() {
	flag.StringVar(&flagPort, "port", "", "SPI port name, e.g. SPI0.0 (first available if empty)")
	flag.StringVar(&flagNSS, "nss", "", "Chip select GPIO name (bus CS if empty)")
	flag.StringVar(&flagBusy, "busy", "GPIO25", "BUSY line GPIO name")
	flag.StringVar(&flagReset, "reset", "GPIO7", "Reset line GPIO name")
	flag.StringVar(&flagMode, "mode", "vicinity", "Card protocol: vicinity, proximity or both")
	flag.IntVar(&flagSpeedMHz, "speed", 0, "SPI clock in MHz (chip maximum if 0)")
	flag.DurationVar(&flagInterval, "interval", 250*time.Millisecond, "Delay between scan rounds")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagLog, "log", false, "Write a session log file in the current directory")
}

func parseConfig() *config {
	cfg := &config{
		port:     flagPort,
		nss:      flagNSS,
		busy:     flagBusy,
		reset:    flagReset,
		mode:     flagMode,
		speedMHz: flagSpeedMHz,
		interval: flagInterval,
		debug:    flagDebug,
		log:      flagLog,
	}

	// Enable debug output if --debug flag is set
	if cfg.debug {
		pn5180.SetDebugEnabled(true)
	}

	return cfg
}

func connectToDevice(cfg *config) (*pn5180.Device, error) {
	transport, err := spi.New(spi.Config{
		Port:  cfg.port,
		NSS:   cfg.nss,
		Busy:  cfg.busy,
		Reset: cfg.reset,
		Speed: physic.Frequency(cfg.speedMHz) * physic.MegaHertz,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI transport: %w", err)
	}

	device, err := pn5180.New(transport)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	// Show chip identity if debug enabled
	if cfg.debug {
		if product, productErr := device.ProductVersion(); productErr == nil {
			_, _ = fmt.Printf("PN5180 product version: %s\n", product)
		}
		if firmware, firmwareErr := device.FirmwareVersion(); firmwareErr == nil {
			_, _ = fmt.Printf("PN5180 firmware version: %s\n", firmware)
		}
	}

	return device, nil
}

func describeCard(ctx context.Context, device *pn5180.Device, card *polling.DetectedCard) {
	_, _ = fmt.Printf("Card detected: UID=%s Protocol=%s", card.UID, card.Protocol)
	if card.Protocol == polling.ProtocolVicinity {
		if info, err := device.ISO15693().GetSystemInfoContext(ctx, card.VicinityUID); err == nil {
			_, _ = fmt.Printf(" Blocks=%d BlockSize=%d", info.NumBlocks, info.BlockSize)
		}
	}
	_, _ = fmt.Println()
}

func runScanLoop(ctx context.Context, device *pn5180.Device, cfg *config) error {
	sessionConfig := polling.DefaultConfig()
	sessionConfig.PollInterval = cfg.interval
	sessionConfig.Vicinity = cfg.mode == "vicinity" || cfg.mode == "both"
	sessionConfig.Proximity = cfg.mode == "proximity" || cfg.mode == "both"

	session := polling.NewSession(device, sessionConfig)
	session.SetRecoverer(polling.NewDefaultRecoverer(device, nil, 0, 0))
	defer func() {
		if err := session.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	session.OnCardDetected = func(card *polling.DetectedCard) error {
		describeCard(ctx, session.GetDevice(), card)
		return nil
	}
	session.OnCardChanged = func(card *polling.DetectedCard) error {
		describeCard(ctx, session.GetDevice(), card)
		return nil
	}
	session.OnCardRemoved = func() {
		_, _ = fmt.Println("Card removed - ready for next card...")
	}

	_, _ = fmt.Println("Scanning for cards. Press Ctrl+C to stop...")
	return session.Start(ctx)
}

func run(ctx context.Context, cfg *config) error {
	switch cfg.mode {
	case "vicinity", "proximity", "both":
	default:
		return fmt.Errorf("unknown mode %q: want vicinity, proximity or both", cfg.mode)
	}

	if cfg.log {
		path, err := pn5180.InitSessionLog()
		if err != nil {
			return err
		}
		_, _ = fmt.Printf("Session log: %s\n", path)
		defer func() {
			if err := pn5180.CloseSessionLog(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Failed to close session log: %v\n", err)
			}
		}()
	}

	device, err := connectToDevice(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	return runScanLoop(ctx, device, cfg)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	// Parse command-line flags
	cfg := parseConfig()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}
