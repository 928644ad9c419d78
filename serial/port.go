// Package serial owns the single serial connection to the photometer.
//
// A Link opens the port, runs a polling read loop on its own goroutine and
// turns the byte stream into newline-delimited lines. Writes go straight to
// the device. The handle is released on every exit path of the loop.
package serial

import (
	"io"
	"strings"
	"sync"

	goserial "github.com/tarm/serial"

	"github.com/CK6170/Intellispec-go/models"
)

// Port is the subset of a serial handle the link needs. *goserial.Port
// satisfies it; tests provide fakes.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens a port from a tarm/serial configuration.
type Opener func(cfg *goserial.Config) (Port, error)

// OpenTarm is the default Opener.
func OpenTarm(cfg *goserial.Config) (Port, error) {
	p, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PortConfig builds the 8N1 tarm/serial configuration for ser, applying the
// instrument defaults (9600 baud, 100ms read timeout) to unset fields.
func PortConfig(ser models.SERIAL) *goserial.Config {
	ser = ser.WithDefaults()
	return &goserial.Config{
		Name:        ser.PORT,
		Baud:        ser.BAUDRATE,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: ser.READTIMEOUT,
	}
}

// inUse tracks the port names held by open links in this process. The OS
// does not reliably refuse a second open of the same tty, so the link does.
var inUse = struct {
	mu    sync.Mutex
	names map[string]struct{}
}{names: map[string]struct{}{}}

func portKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func acquirePort(name string) bool {
	k := portKey(name)
	inUse.mu.Lock()
	defer inUse.mu.Unlock()
	if _, ok := inUse.names[k]; ok {
		return false
	}
	inUse.names[k] = struct{}{}
	return true
}

func releasePort(name string) {
	inUse.mu.Lock()
	delete(inUse.names, portKey(name))
	inUse.mu.Unlock()
}

// InUse reports whether a link in this process currently holds name.
func InUse(name string) bool {
	inUse.mu.Lock()
	defer inUse.mu.Unlock()
	_, ok := inUse.names[portKey(name)]
	return ok
}
