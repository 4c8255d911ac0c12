// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame decodes the peripheral's line protocol into samples.
//
// Two framings are accepted on the same link:
//
//	512,600,1              plain "X,Y,B" record
//	$JSXYB,512,600,1*4F    NMEA-0183 style sentence with XOR checksum
//
// X and Y are raw ADC readings in [0, RawMax]; B is 0 or 1.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RawMax is the largest value the peripheral's 10-bit ADC can report.
const RawMax = 1023

var (
	// ErrMalformedFrame is returned when a line cannot be split or parsed.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrOutOfRange is returned when a parsed value lies outside its declared range.
	ErrOutOfRange = errors.New("frame value out of range")
)

// Sample is one decoded input frame.
type Sample struct {
	AxisX  int  `json:"x"`
	AxisY  int  `json:"y"`
	Button bool `json:"button"`
}

// NewSample validates raw readings and builds a Sample. Values outside the
// declared ranges are rejected, never clamped.
func NewSample(x, y, button int) (Sample, error) {
	if x < 0 || x > RawMax {
		return Sample{}, fmt.Errorf("%w: x=%d not in [0,%d]", ErrOutOfRange, x, RawMax)
	}
	if y < 0 || y > RawMax {
		return Sample{}, fmt.Errorf("%w: y=%d not in [0,%d]", ErrOutOfRange, y, RawMax)
	}
	if button != 0 && button != 1 {
		return Sample{}, fmt.Errorf("%w: button=%d not 0 or 1", ErrOutOfRange, button)
	}
	return Sample{AxisX: x, AxisY: y, Button: button == 1}, nil
}

// Decode parses one line (with or without its terminator) into a Sample.
// It has no side effects; on failure the returned error wraps
// ErrMalformedFrame or ErrOutOfRange.
func Decode(line string) (Sample, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, fmt.Errorf("%w: empty line", ErrMalformedFrame)
	}
	for i := 0; i < len(line); i++ {
		if line[i] > 0x7e || line[i] < 0x20 {
			return Sample{}, fmt.Errorf("%w: non-printable byte 0x%02x", ErrMalformedFrame, line[i])
		}
	}

	if strings.HasPrefix(line, "$") {
		return decodeSentence(line)
	}
	return decodePlain(line)
}

func decodePlain(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Sample{}, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformedFrame, len(fields))
	}

	var vals [3]int
	for i, f := range fields {
		if !isDecimal(f) {
			return Sample{}, fmt.Errorf("%w: field %d %q", ErrMalformedFrame, i, f)
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: field %d %q", ErrMalformedFrame, i, f)
		}
		vals[i] = v
	}
	return NewSample(vals[0], vals[1], vals[2])
}

// isDecimal accepts an optional minus sign followed by ASCII digits only.
// Negative values then fail the range check instead of the syntax check.
func isDecimal(f string) bool {
	f = strings.TrimPrefix(f, "-")
	if f == "" {
		return false
	}
	for i := 0; i < len(f); i++ {
		if f[i] < '0' || f[i] > '9' {
			return false
		}
	}
	return true
}

// Encode renders a Sample in the plain wire format, without terminator.
func Encode(s Sample) string {
	b := 0
	if s.Button {
		b = 1
	}
	return fmt.Sprintf("%d,%d,%d", s.AxisX, s.AxisY, b)
}
