package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when a port cannot be opened or is already in use.
	ErrConnection = errors.New("connection error")

	// ErrIO is returned when a read or write fails on an open handle, or when
	// writing to a link that is not open.
	ErrIO = errors.New("i/o error")

	// ErrConnectionLost is reported once when the read loop dies on an I/O failure.
	ErrConnectionLost = fmt.Errorf("connection lost: %w", ErrIO)

	// ErrParse marks a recognized telemetry line whose numeric field is unusable.
	ErrParse = errors.New("parse warning")

	// ErrCalibrationIncomplete is the warning published when the calibration
	// window closes without a blank voltage.
	ErrCalibrationIncomplete = errors.New("calibration incomplete: no blank voltage received")

	// ErrBusy is returned when an operator action is issued outside Idle.
	ErrBusy = errors.New("operation in progress")

	// ErrNotConnected is returned when an operator action needs a connection.
	ErrNotConnected = errors.New("not connected")
)
