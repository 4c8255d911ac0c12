// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"context"
	"fmt"
	"io"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
	"go.bug.st/serial/enumerator"
)

// Port is an open serial endpoint. Read may return (0, io.EOF) when no bytes
// arrived within the driver's inter-character timeout; that is not a failure.
type Port interface {
	io.ReadCloser
}

// Opener opens the endpoint at path with the given bit rate.
type Opener func(ctx context.Context, path string, baud int) (Port, error)

// Discoverer finds the endpoint of the peripheral.
type Discoverer interface {
	Discover(ctx context.Context) (string, error)
}

// SerialOpener opens a real serial device, 8N1. Reads return after 100 ms of
// silence so the reader goroutine can notice a closed link.
func SerialOpener(_ context.Context, path string, baud int) (Port, error) {
	opts := serial.OpenOptions{
		PortName:              path,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// FixedPort always reports the same endpoint.
type FixedPort string

func (p FixedPort) Discover(context.Context) (string, error) {
	if p == "" {
		return "", fmt.Errorf("no serial port configured")
	}
	return string(p), nil
}

// USBDiscoverer picks the first USB serial endpoint whose vendor id is in
// VendorIDs, or whose product string mentions Arduino.
type USBDiscoverer struct {
	VendorIDs []string // lowercase hex, e.g. "2341"

	// list is swapped in tests.
	list func() ([]*enumerator.PortDetails, error)
}

func (d USBDiscoverer) Discover(ctx context.Context) (string, error) {
	list := d.list
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}

	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		vid := strings.ToLower(p.VID)
		for _, want := range d.VendorIDs {
			if vid == want {
				return p.Name, nil
			}
		}
		if strings.Contains(strings.ToLower(p.Product), "arduino") {
			return p.Name, nil
		}
	}

	return "", fmt.Errorf("no matching device among %d serial ports", len(ports))
}
