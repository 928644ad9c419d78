package serial

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/models"
)

const (
	// PollInterval is the pause after a read attempt that returned no bytes.
	PollInterval = 10 * time.Millisecond

	// MaxLineLength bounds an unterminated line; longer garbage is discarded.
	MaxLineLength = 4096

	lineBuffer = 64
)

// Option customizes Open.
type Option func(*Link)

// WithOpener replaces the tarm/serial opener.
func WithOpener(o Opener) Option { return func(l *Link) { l.opener = o } }

// WithLogger sets the logger used by the read loop.
func WithLogger(logger *zap.Logger) Option { return func(l *Link) { l.logger = logger } }

// WithPollInterval overrides PollInterval.
func WithPollInterval(d time.Duration) Option { return func(l *Link) { l.pollInterval = d } }

// WithMaxLineLength overrides MaxLineLength.
func WithMaxLineLength(n int) Option { return func(l *Link) { l.maxLine = n } }

// Link is an open serial connection with a running read loop.
type Link struct {
	name         string
	opener       Opener
	logger       *zap.Logger
	pollInterval time.Duration
	maxLine      int

	port  Port
	lines chan []byte
	lost  chan error
	stop  chan struct{}
	done  chan struct{}

	stopOnce    sync.Once
	releaseOnce sync.Once

	// mu serializes writes against release of the handle.
	mu     sync.Mutex
	closed bool
}

// Open opens the port described by ser and starts the read loop.
//
// It fails with models.ErrConnection when the port name is empty, when
// another link in this process holds it, or when the device cannot be
// opened. The link closes itself when ctx is cancelled.
func Open(ctx context.Context, ser models.SERIAL, opts ...Option) (*Link, error) {
	cfg := PortConfig(ser)
	l := &Link{
		name:         cfg.Name,
		opener:       OpenTarm,
		logger:       zap.NewNop(),
		pollInterval: PollInterval,
		maxLine:      MaxLineLength,
		lines:        make(chan []byte, lineBuffer),
		lost:         make(chan error, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.name == "" {
		return nil, errors.Wrap(models.ErrConnection, "no port selected")
	}
	if !acquirePort(l.name) {
		return nil, errors.Wrapf(models.ErrConnection, "%s is already in use", l.name)
	}
	port, err := l.opener(cfg)
	if err != nil {
		releasePort(l.name)
		return nil, errors.Wrapf(models.ErrConnection, "open %s: %v", l.name, err)
	}
	l.port = port
	l.logger = l.logger.With(zap.String("port", l.name))
	l.logger.Info("Serial link opened",
		zap.Int("baud", cfg.Baud),
		zap.Duration("read_timeout", cfg.ReadTimeout))

	go l.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.done:
		}
	}()
	return l, nil
}

// Name returns the port name.
func (l *Link) Name() string { return l.name }

// Lines returns the received lines in wire order, without the terminator.
// The channel is closed when the read loop ends.
func (l *Link) Lines() <-chan []byte { return l.lines }

// Lost receives a single error wrapping models.ErrConnectionLost if the read
// loop dies on an I/O failure. It never fires after an explicit Close.
func (l *Link) Lost() <-chan error { return l.lost }

// Done is closed once the read loop has exited and the handle is released.
func (l *Link) Done() <-chan struct{} { return l.done }

// Write sends b to the device.
func (l *Link) Write(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.Wrapf(models.ErrIO, "write to %s: link not open", l.name)
	}
	if _, err := l.port.Write(b); err != nil {
		return errors.Wrapf(models.ErrIO, "write to %s: %v", l.name, err)
	}
	return nil
}

// Close stops the read loop, waits for it to exit and releases the device.
// It is safe to call more than once and from any goroutine.
func (l *Link) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *Link) release() {
	l.releaseOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		err := l.port.Close()
		l.mu.Unlock()
		releasePort(l.name)
		if err != nil {
			l.logger.Warn("Serial port close failed", zap.Error(err))
		}
		l.logger.Info("Serial link closed")
	})
}

func (l *Link) readLoop() {
	defer close(l.done)
	defer close(l.lines)
	defer l.release()

	idle := time.NewTimer(l.pollInterval)
	defer idle.Stop()

	var pending []byte
	tmp := make([]byte, 256)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		n, err := l.port.Read(tmp)
		if n > 0 {
			var ok bool
			pending, ok = l.emit(append(pending, tmp[:n]...))
			if !ok {
				return
			}
		}
		// tarm/serial reports a read timeout as (0, io.EOF) on POSIX and
		// (0, nil) on Windows.
		if err != nil && !errors.Is(err, io.EOF) {
			l.logger.Error("Serial read failed", zap.Error(err))
			l.lost <- errors.WithMessage(models.ErrConnectionLost, err.Error())
			return
		}
		if n == 0 {
			idle.Reset(l.pollInterval)
			select {
			case <-l.stop:
				return
			case <-idle.C:
			}
		}
	}
}

// emit sends every complete line in buf and returns the unterminated rest.
// ok is false when the link was stopped while sending.
func (l *Link) emit(buf []byte) (rest []byte, ok bool) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := append([]byte(nil), bytes.TrimRight(buf[:i], "\r")...)
		buf = buf[i+1:]
		select {
		case l.lines <- line:
		case <-l.stop:
			return nil, false
		}
	}
	if len(buf) > l.maxLine {
		l.logger.Warn("Discarding unterminated serial data", zap.Int("bytes", len(buf)))
		return nil, true
	}
	return append([]byte(nil), buf...), true
}
