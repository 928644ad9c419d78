// Package models defines the types shared between the serial link, the line
// parser, the acquisition controller and the presentation front ends (web
// server and console).
//
// These types are also the JSON shapes pushed to browser clients.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Serial defaults for the photometer.
const (
	// DefaultBaudRate is the only rate the instrument firmware speaks.
	DefaultBaudRate = 9600

	// DefaultReadTimeout bounds each read attempt of the link poll loop.
	DefaultReadTimeout = 100 * time.Millisecond
)

// SERIAL contains the serial-port connection settings used to communicate with
// the instrument.
type SERIAL struct {
	PORT        string        `json:"PORT" mapstructure:"port" yaml:"port"`
	BAUDRATE    int           `json:"BAUDRATE" mapstructure:"baud" yaml:"baud"`
	READTIMEOUT time.Duration `json:"READTIMEOUT" mapstructure:"read_timeout" yaml:"read_timeout"`
}

// WithDefaults returns a copy with zero fields replaced by the instrument
// defaults.
func (s SERIAL) WithDefaults() SERIAL {
	s.PORT = strings.TrimSpace(s.PORT)
	if s.BAUDRATE <= 0 {
		s.BAUDRATE = DefaultBaudRate
	}
	if s.READTIMEOUT <= 0 {
		s.READTIMEOUT = DefaultReadTimeout
	}
	return s
}

// Phase is the controller's operational mode.
type Phase int

const (
	Disconnected Phase = iota
	Idle
	Calibrating
	Measuring
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Measuring:
		return "measuring"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name so JSON clients never see the ordinal.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText is the inverse of MarshalText, so API clients can decode
// Status and Event payloads.
func (p *Phase) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "disconnected":
		*p = Disconnected
	case "idle":
		*p = Idle
	case "calibrating":
		*p = Calibrating
	case "measuring":
		*p = Measuring
	default:
		return fmt.Errorf("unknown phase %q", string(b))
	}
	return nil
}

// ReadingKind tags a Reading.
type ReadingKind int

const (
	// ReadingBlank is the reference voltage reported during calibration.
	ReadingBlank ReadingKind = iota + 1
	// ReadingSample is a regular voltage reading reported during measurement.
	ReadingSample
)

// String implements fmt.Stringer.
func (k ReadingKind) String() string {
	switch k {
	case ReadingBlank:
		return "blank"
	case ReadingSample:
		return "sample"
	default:
		return fmt.Sprintf("ReadingKind(%d)", int(k))
	}
}

// Reading is one voltage report decoded from a line of telemetry.
type Reading struct {
	Kind    ReadingKind
	Voltage float64
}

// Snapshot is the latest displayable result.
//
// HasOptics is false when a sample voltage arrived before any blank voltage
// was stored; Absorbance/Transmittance then hold the previous values.
// Samples, MeanVoltage and StdDevVoltage describe the current measuring window.
type Snapshot struct {
	Voltage       float64   `json:"voltage"`
	Absorbance    float64   `json:"absorbance"`
	Transmittance float64   `json:"transmittance"`
	HasOptics     bool      `json:"hasOptics"`
	Samples       int       `json:"samples"`
	MeanVoltage   float64   `json:"meanVoltage"`
	StdDevVoltage float64   `json:"stdDevVoltage"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BaselineSnapshot is what the display shows right after a calibration starts
// or a blank voltage is stored: full transmittance, zero absorbance.
func BaselineSnapshot(voltage float64, at time.Time) Snapshot {
	return Snapshot{
		Voltage:       voltage,
		Absorbance:    0,
		Transmittance: 100,
		UpdatedAt:     at,
	}
}

// PortInfo describes an enumerated serial port.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUsb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}
