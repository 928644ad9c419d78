// Package protocol decodes the photometer's line-oriented ASCII telemetry and
// holds the fixed commands sent to it.
//
// The wire format is loose on purpose: a line is recognized by a marker
// substring anywhere in it, and the value is whatever follows the last colon.
// Everything else is ignored.
package protocol

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/CK6170/Intellispec-go/models"
)

// Outbound commands.
const (
	CmdCalibrate = "calibrate\n"
	CmdRead      = "read\n"
)

// Inbound markers. BlankMarker is checked first.
const (
	BlankMarker   = "Initial Voltage (Blank):"
	VoltageMarker = "Voltage:"
)

// Parse decodes one telemetry line.
//
// ok is false when the line carries no reading. err is non-nil only for a
// recognized line whose value cannot be used; it wraps models.ErrParse and
// never means the caller should stop reading.
func Parse(line string) (r models.Reading, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return models.Reading{}, false, nil
	}
	switch {
	case strings.Contains(line, BlankMarker):
		return extract(line, models.ReadingBlank)
	case strings.Contains(line, VoltageMarker):
		return extract(line, models.ReadingSample)
	default:
		return models.Reading{}, false, nil
	}
}

// ParseBytes decodes a raw line as received from the link. Invalid UTF-8 is
// reported as a parse warning.
func ParseBytes(raw []byte) (models.Reading, bool, error) {
	if !utf8.Valid(raw) {
		return models.Reading{}, false, errors.Wrapf(models.ErrParse, "invalid utf-8 in %q", raw)
	}
	return Parse(string(raw))
}

func extract(line string, kind models.ReadingKind) (models.Reading, bool, error) {
	field := strings.TrimSpace(line[strings.LastIndex(line, ":")+1:])
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return models.Reading{}, false, errors.Wrapf(models.ErrParse, "%s voltage %q", kind, field)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return models.Reading{}, false, errors.Wrapf(models.ErrParse, "%s voltage %q is not finite", kind, field)
	}
	return models.Reading{Kind: kind, Voltage: v}, true, nil
}
