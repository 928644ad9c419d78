// Package ui is the console front end of the photometer: single-key operator
// commands and a coloured live readout repainted in place.
package ui

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/acquisition"
	"github.com/CK6170/Intellispec-go/models"
)

// Controller is the part of the acquisition controller the console drives.
type Controller interface {
	Connect(ctx context.Context, port string) error
	Disconnect() error
	Calibrate() error
	Measure() error
	Status() acquisition.Status
	Subscribe() (<-chan models.Event, func())
}

const helpText = "Keys: 'C' calibrate  'M' measure  'D' disconnect  'R' reconnect  'H' help  <ESC>/'Q' quit\n"

type Console struct {
	ctrl     Controller
	keys     <-chan rune
	out      io.Writer
	logger   *zap.Logger
	interval time.Duration
}

// NewConsole wires a console to ctrl. keys is usually StartKeyEvents; the
// status line is refreshed every interval (1s when zero).
func NewConsole(ctrl Controller, keys <-chan rune, out io.Writer, logger *zap.Logger, interval time.Duration) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Console{ctrl: ctrl, keys: keys, out: out, logger: logger, interval: interval}
}

// Run handles keys and events until the operator quits, the key source
// closes or ctx is cancelled. Keys already queued on the channel are acted
// on; callers drain stale keys first.
func (c *Console) Run(ctx context.Context) error {
	events, cancel := c.ctrl.Subscribe()
	defer cancel()

	Greenf(c.out, helpText)
	PrintLiveLine(c.out, c.ctrl.Status())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case k, ok := <-c.keys:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			if c.handleKey(ctx, k) {
				fmt.Fprintln(c.out)
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			c.handleEvent(ev)
		case <-ticker.C:
			PrintLiveLine(c.out, c.ctrl.Status())
		}
	}
}

// handleKey runs the action bound to k and reports whether to quit.
func (c *Console) handleKey(ctx context.Context, k rune) bool {
	var (
		name string
		err  error
	)
	switch unicode.ToLower(k) {
	case 'c':
		name, err = "calibrate", c.ctrl.Calibrate()
	case 'm':
		name, err = "measure", c.ctrl.Measure()
	case 'd':
		name, err = "disconnect", c.ctrl.Disconnect()
	case 'r':
		Greenf(c.out, "\nConnecting...\n")
		name, err = "connect", c.ctrl.Connect(ctx, "")
	case 'h', '?':
		fmt.Fprintln(c.out)
		Greenf(c.out, helpText)
		return false
	case 'q', KeyEsc, KeyCtrlC:
		return true
	default:
		return false
	}
	c.logger.Debug("Console action", zap.String("action", name), zap.Error(err))
	if err != nil {
		Warningf(c.out, "\n%s: %v\n", name, err)
	}
	PrintLiveLine(c.out, c.ctrl.Status())
	return false
}

func (c *Console) handleEvent(ev models.Event) {
	switch ev.Kind {
	case models.EventPhase:
		prev := "?"
		if ev.Previous != nil {
			prev = ev.Previous.String()
		}
		Greenf(c.out, "\n%s -> %s\n", prev, ev.Phase)
	case models.EventError:
		Errorf(c.out, "\nError: %s\n", ev.Error)
	case models.EventWarning:
		Warningf(c.out, "\nWarning: %s\n", ev.Warning)
	}
	PrintLiveLine(c.out, c.ctrl.Status())
}
