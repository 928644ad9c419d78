// Package acquisition runs the calibration/measurement workflow of the
// photometer.
//
// A Controller owns the serial link and all measurement state. Every mutation
// happens on the goroutine running Run; operator calls, parsed readings and
// timer expiries are posted to it as closures. Observers read a published
// copy through Status or receive Events through Subscribe.
package acquisition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/internal/metrics"
	"github.com/CK6170/Intellispec-go/models"
	"github.com/CK6170/Intellispec-go/optics"
	"github.com/CK6170/Intellispec-go/serial"
)

const (
	// DefaultCalibrationWindow is how long the instrument gets to report a
	// blank voltage after "calibrate".
	DefaultCalibrationWindow = 12 * time.Second

	// DefaultMeasureWindow is how long operator actions stay disabled after "read".
	DefaultMeasureWindow = 7 * time.Second

	// DefaultStatusInterval is the cadence of the link liveness check.
	DefaultStatusInterval = time.Second

	inboxSize      = 64
	subscriberSize = 32
)

// ErrStopped is returned by operator calls once Run has returned.
var ErrStopped = errors.New("acquisition controller stopped")

// Link is the part of a serial link the controller uses.
type Link interface {
	Lines() <-chan []byte
	Lost() <-chan error
	Write(b []byte) error
	Close() error
}

// Dialer opens a link; the link must close itself when ctx ends.
type Dialer func(ctx context.Context, ser models.SERIAL) (Link, error)

// SerialDialer opens real serial links.
func SerialDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, ser models.SERIAL) (Link, error) {
		l, err := serial.Open(ctx, ser, serial.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// LineTracer records telemetry lines that could not be used: lines that
// failed to parse (parseErr set) and lines carrying no known marker.
type LineTracer interface {
	TraceLine(port string, line []byte, parseErr error)
}

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	Serial            models.SERIAL
	Dialer            Dialer
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	Tracer            LineTracer
	DarkVoltage       float64
	CalibrationWindow time.Duration
	MeasureWindow     time.Duration
	StatusInterval    time.Duration
}

// Status is a consistent copy of the controller's observable state.
type Status struct {
	Phase          models.Phase    `json:"phase"`
	ActionsEnabled bool            `json:"actionsEnabled"`
	Port           string          `json:"port,omitempty"`
	Session        string          `json:"session,omitempty"`
	BlankVoltage   *float64        `json:"blankVoltage,omitempty"`
	DarkVoltage    float64         `json:"darkVoltage"`
	Snapshot       models.Snapshot `json:"snapshot"`
	LastError      string          `json:"lastError,omitempty"`
}

type Controller struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	inbox   chan func()
	stopped chan struct{}
	runOnce sync.Once

	// Owned by the Run goroutine.
	runCtx   context.Context
	phase    models.Phase
	blank    *float64
	snapshot models.Snapshot
	window   optics.Window
	link     Link
	linkGen  uint64
	port     string
	session  string
	timer    *time.Timer
	timerGen uint64
	lastErr  string

	mu     sync.RWMutex
	status Status

	subsMu  sync.Mutex
	subs    map[int]chan models.Event
	nextSub int
	closed  bool
}

// New builds a Controller in the Disconnected phase. Call Run to start it.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = SerialDialer(opts.Logger)
	}
	if opts.DarkVoltage == 0 {
		opts.DarkVoltage = optics.DarkVoltage
	}
	if opts.CalibrationWindow <= 0 {
		opts.CalibrationWindow = DefaultCalibrationWindow
	}
	if opts.MeasureWindow <= 0 {
		opts.MeasureWindow = DefaultMeasureWindow
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	opts.Serial = opts.Serial.WithDefaults()

	c := &Controller{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		inbox:    make(chan func(), inboxSize),
		stopped:  make(chan struct{}),
		phase:    models.Disconnected,
		snapshot: models.BaselineSnapshot(0, time.Time{}),
		subs:     make(map[int]chan models.Event),
	}
	c.refreshStatus()
	return c
}

// Run processes events until ctx is cancelled, then closes the link, stops
// the timers and closes all subscriptions. It returns ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("acquisition controller already running")
	}
	c.runCtx = ctx
	c.metrics.SetPhase(int(c.phase))
	c.logger.Info("Acquisition controller started",
		zap.Duration("calibration_window", c.opts.CalibrationWindow),
		zap.Duration("measure_window", c.opts.MeasureWindow),
		zap.Float64("dark_voltage", c.opts.DarkVoltage))

	ticker := time.NewTicker(c.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case fn := <-c.inbox:
			fn()
			c.refreshStatus()
		case <-ticker.C:
			c.checkLink()
			c.refreshStatus()
		}
	}
}

// Status returns the last published state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	if s.BlankVoltage != nil {
		v := *s.BlankVoltage
		s.BlankVoltage = &v
	}
	return s
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Slow subscribers miss events rather than block the
// controller. The channel is closed when the subscription is cancelled or
// the controller stops.
func (c *Controller) Subscribe() (<-chan models.Event, func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	ch := make(chan models.Event, subscriberSize)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// do runs fn on the controller goroutine and waits for its result.
func (c *Controller) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.inbox <- func() { res <- fn() }:
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-c.stopped:
		return ErrStopped
	}
}

// post queues fn on the controller goroutine without waiting.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.stopped:
	}
}

func (c *Controller) shutdown() {
	c.closeLink()
	c.stopTimer()
	c.window.Reset()
	c.setPhase(models.Disconnected)
	c.refreshStatus()
	close(c.stopped)

	c.subsMu.Lock()
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()
	c.logger.Info("Acquisition controller stopped")
}

func (c *Controller) refreshStatus() {
	s := Status{
		Phase:          c.phase,
		ActionsEnabled: c.phase == models.Idle,
		Port:           c.port,
		Session:        c.session,
		DarkVoltage:    c.opts.DarkVoltage,
		Snapshot:       c.snapshot,
		LastError:      c.lastErr,
	}
	if c.blank != nil {
		v := *c.blank
		s.BlankVoltage = &v
	}
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Controller) publish(ev models.Event) {
	ev.Phase = c.phase
	ev.Session = c.session
	ev.At = time.Now()
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Debug("Subscriber buffer full, event dropped", zap.String("event", string(ev.Kind)))
		}
	}
}

func (c *Controller) setPhase(p models.Phase) {
	if c.phase == p {
		return
	}
	prev := c.phase
	c.phase = p
	c.metrics.SetPhase(int(p))
	c.logger.Info("Phase changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", p),
		zap.String("session", c.session))
	c.publish(models.Event{Kind: models.EventPhase, Previous: &prev})
}

func (c *Controller) publishSnapshot() {
	snap := c.snapshot
	c.publish(models.Event{Kind: models.EventSnapshot, Snapshot: &snap})
}

func (c *Controller) publishError(err error) {
	c.lastErr = err.Error()
	c.publish(models.Event{Kind: models.EventError, Error: err.Error()})
}

func (c *Controller) publishWarning(err error) {
	c.publish(models.Event{Kind: models.EventWarning, Warning: err.Error()})
}

// newSession returns a fresh connection session id.
func newSession() string {
	return uuid.NewString()
}
