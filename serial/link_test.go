package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goserial "github.com/tarm/serial"

	"github.com/CK6170/Intellispec-go/models"
)

// fakePort behaves like a tarm/serial port with a short read timeout.
type fakePort struct {
	chunks  chan []byte
	readErr chan error

	mu             sync.Mutex
	written        bytes.Buffer
	writeErr       error
	closed         int
	readAfterClose bool
	cfg            *goserial.Config
}

func newFakePort() *fakePort {
	return &fakePort{chunks: make(chan []byte, 16), readErr: make(chan error, 1)}
}

func (f *fakePort) Read(b []byte) (int, error) {
	f.mu.Lock()
	if f.closed > 0 {
		f.readAfterClose = true
	}
	f.mu.Unlock()
	select {
	case c := <-f.chunks:
		return copy(b, c), nil
	case err := <-f.readErr:
		return 0, err
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func (f *fakePort) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(b)
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePort) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePort) opener() Opener {
	return func(cfg *goserial.Config) (Port, error) {
		f.cfg = cfg
		return f, nil
	}
}

func openFake(t *testing.T, f *fakePort, opts ...Option) *Link {
	t.Helper()
	opts = append([]Option{WithOpener(f.opener()), WithPollInterval(time.Millisecond)}, opts...)
	l, err := Open(context.Background(), models.SERIAL{PORT: t.Name()}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func nextLine(t *testing.T, l *Link) string {
	t.Helper()
	select {
	case line, ok := <-l.Lines():
		require.True(t, ok, "lines channel closed")
		return string(line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func TestOpenUsesInstrumentDefaults(t *testing.T) {
	f := newFakePort()
	openFake(t, f)
	require.NotNil(t, f.cfg)
	assert.Equal(t, t.Name(), f.cfg.Name)
	assert.Equal(t, 9600, f.cfg.Baud)
	assert.Equal(t, 100*time.Millisecond, f.cfg.ReadTimeout)
	assert.Equal(t, byte(8), f.cfg.Size)
}

func TestLinkAssemblesLines(t *testing.T) {
	f := newFakePort()
	l := openFake(t, f)

	f.chunks <- []byte("Volt")
	f.chunks <- []byte("age: 1.0\r\nInit")
	f.chunks <- []byte("ial Voltage (Blank): 2\n")

	assert.Equal(t, "Voltage: 1.0", nextLine(t, l))
	assert.Equal(t, "Initial Voltage (Blank): 2", nextLine(t, l))
}

func TestLinkDiscardsOversizedGarbage(t *testing.T) {
	f := newFakePort()
	l := openFake(t, f, WithMaxLineLength(8))

	f.chunks <- []byte("0123456789abc")
	f.chunks <- []byte("\nVoltage: 1\n")

	assert.Equal(t, "", nextLine(t, l))
	assert.Equal(t, "Voltage: 1", nextLine(t, l))
}

func TestLinkWriteAndClose(t *testing.T) {
	f := newFakePort()
	l := openFake(t, f)

	require.NoError(t, l.Write([]byte("read\n")))
	f.mu.Lock()
	assert.Equal(t, "read\n", f.written.String())
	f.mu.Unlock()
	assert.True(t, InUse(t.Name()))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, f.closeCount())
	assert.False(t, InUse(t.Name()))

	_, ok := <-l.Lines()
	assert.False(t, ok)
	select {
	case err := <-l.Lost():
		t.Fatalf("unexpected lost event after Close: %v", err)
	default:
	}

	err := l.Write([]byte("read\n"))
	assert.True(t, errors.Is(err, models.ErrIO))

	f.mu.Lock()
	assert.False(t, f.readAfterClose)
	f.mu.Unlock()
}

func TestLinkWriteFailure(t *testing.T) {
	f := newFakePort()
	f.writeErr = errors.New("device gone")
	l := openFake(t, f)

	err := l.Write([]byte("calibrate\n"))
	assert.True(t, errors.Is(err, models.ErrIO))
}

func TestLinkReportsConnectionLostOnce(t *testing.T) {
	f := newFakePort()
	l := openFake(t, f)

	f.readErr <- errors.New("input/output error")

	select {
	case err := <-l.Lost():
		assert.True(t, errors.Is(err, models.ErrConnectionLost))
		assert.True(t, errors.Is(err, models.ErrIO))
	case <-time.After(time.Second):
		t.Fatal("no lost event")
	}
	<-l.Done()
	_, ok := <-l.Lines()
	assert.False(t, ok)
	assert.Equal(t, 1, f.closeCount())
	assert.False(t, InUse(t.Name()))

	select {
	case err := <-l.Lost():
		t.Fatalf("second lost event: %v", err)
	default:
	}
	require.NoError(t, l.Close())
	assert.Equal(t, 1, f.closeCount())
}

func TestOpenRejectsPortInUse(t *testing.T) {
	f := newFakePort()
	openFake(t, f)

	_, err := Open(context.Background(), models.SERIAL{PORT: t.Name()}, WithOpener(newFakePort().opener()))
	assert.True(t, errors.Is(err, models.ErrConnection))
}

func TestOpenFailures(t *testing.T) {
	_, err := Open(context.Background(), models.SERIAL{PORT: "  "})
	assert.True(t, errors.Is(err, models.ErrConnection))

	failing := func(*goserial.Config) (Port, error) { return nil, errors.New("no such file") }
	_, err = Open(context.Background(), models.SERIAL{PORT: t.Name()}, WithOpener(failing))
	assert.True(t, errors.Is(err, models.ErrConnection))
	assert.False(t, InUse(t.Name()))
}

func TestLinkClosesWithContext(t *testing.T) {
	f := newFakePort()
	ctx, cancel := context.WithCancel(context.Background())
	l, err := Open(ctx, models.SERIAL{PORT: t.Name()}, WithOpener(f.opener()))
	require.NoError(t, err)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not close with its context")
	}
	assert.Equal(t, 1, f.closeCount())
}
