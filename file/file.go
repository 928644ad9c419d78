// Package file writes a diagnostic trace of unusable serial telemetry.
//
// Lines the instrument sends that fail to parse, or that carry no known
// marker, are appended to the trace as one JSON object per line. The trace
// is meant for chasing wiring, baud rate and firmware problems; readings
// that parse are never written.
package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Record is one trace line.
type Record struct {
	At   time.Time `json:"timestamp"`
	Port string    `json:"port"`
	Line string    `json:"line"`
	// Raw holds the exact bytes when Line had to be lossily decoded.
	Raw     []byte `json:"raw,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// AppendToFile appends content plus a newline to path, creating the file and
// its directory if needed.
func AppendToFile(path string, content []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open file for append")
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(content, '\n')); err != nil {
		return errors.Wrap(err, "failed to write to file")
	}
	return nil
}

// Trace appends unusable telemetry lines to a file. It is safe for
// concurrent use.
type Trace struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	failed bool
}

func NewTrace(path string, logger *zap.Logger) *Trace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trace{path: path, logger: logger, now: time.Now}
}

func (t *Trace) Path() string { return t.path }

// Append writes rec as one JSON line.
func (t *Trace) Append(rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode trace record")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return AppendToFile(t.path, b)
}

// TraceLine records line as received on port. parseErr is nil for lines
// that were ignored rather than rejected.
//
// Write failures are logged once; acquisition never stops because of the
// trace.
func (t *Trace) TraceLine(port string, line []byte, parseErr error) {
	rec := Record{At: t.now(), Port: port, Line: string(line), Warning: "unrecognized line"}
	if !utf8.Valid(line) {
		rec.Line = string([]rune(string(line)))
		rec.Raw = append([]byte(nil), line...)
	}
	if parseErr != nil {
		rec.Warning = parseErr.Error()
	}
	err := t.Append(rec)

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err != nil && !t.failed:
		t.failed = true
		t.logger.Warn("Failed to write telemetry trace", zap.String("path", t.path), zap.Error(err))
	case err == nil && t.failed:
		t.failed = false
		t.logger.Info("Telemetry trace writable again", zap.String("path", t.path))
	}
}
