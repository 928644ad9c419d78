package acquisition

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/models"
	"github.com/CK6170/Intellispec-go/optics"
	"github.com/CK6170/Intellispec-go/protocol"
)

// Connect opens port (or the configured port when empty) and moves the
// controller to Idle. Any current link is closed first, so a failed attempt
// leaves the controller Disconnected. Open failures wrap models.ErrConnection.
func (c *Controller) Connect(ctx context.Context, port string) error {
	ser := c.opts.Serial
	if p := strings.TrimSpace(port); p != "" {
		ser.PORT = p
	}

	var runCtx context.Context
	if err := c.do(func() error {
		c.teardown("port switch")
		runCtx = c.runCtx
		return nil
	}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	link, err := c.opts.Dialer(runCtx, ser)
	if err != nil {
		if !errors.Is(err, models.ErrConnection) {
			err = pkgerrors.Wrapf(models.ErrConnection, "open %s: %v", ser.PORT, err)
		}
		c.metrics.ConnectionError("open")
		c.logger.Error("Connect failed", zap.String("port", ser.PORT), zap.Error(err))
		_ = c.do(func() error {
			c.publishError(err)
			return nil
		})
		return err
	}

	return c.do(func() error {
		// A concurrent Connect may have installed a link in the meantime.
		c.teardown("port switch")
		c.linkGen++
		c.link = link
		c.port = ser.PORT
		c.session = newSession()
		c.lastErr = ""
		c.logger.Info("Connected",
			zap.String("port", ser.PORT),
			zap.Int("baud", ser.BAUDRATE),
			zap.String("session", c.session))
		c.setPhase(models.Idle)
		go c.pump(c.linkGen, ser.PORT, link)
		return nil
	})
}

// Disconnect closes the link and stops pending timers. The stored blank
// voltage and the last snapshot are kept.
func (c *Controller) Disconnect() error {
	return c.do(func() error {
		c.teardown("operator disconnect")
		return nil
	})
}

// Calibrate starts a calibration window: the stored blank voltage is cleared,
// "calibrate" is sent and operator actions stay disabled until the window
// closes. Only allowed in Idle.
func (c *Controller) Calibrate() error {
	return c.do(func() error {
		if err := c.requireIdle("calibrate"); err != nil {
			return err
		}
		c.blank = nil
		c.window.Reset()
		c.snapshot = models.BaselineSnapshot(0, time.Now())
		if err := c.write(protocol.CmdCalibrate); err != nil {
			return err
		}
		c.logger.Info("Calibration started", zap.Duration("window", c.opts.CalibrationWindow))
		c.startTimer(c.opts.CalibrationWindow, c.finishCalibration)
		c.setPhase(models.Calibrating)
		c.publishSnapshot()
		return nil
	})
}

// Measure starts a measuring window: "read" is sent and every sample voltage
// received before the window closes updates the snapshot. Only allowed in Idle.
func (c *Controller) Measure() error {
	return c.do(func() error {
		if err := c.requireIdle("measure"); err != nil {
			return err
		}
		c.window.Reset()
		if err := c.write(protocol.CmdRead); err != nil {
			return err
		}
		c.snapshot.Samples = 0
		c.snapshot.MeanVoltage = 0
		c.snapshot.StdDevVoltage = 0
		c.logger.Info("Measurement started",
			zap.Duration("window", c.opts.MeasureWindow),
			zap.Bool("calibrated", c.blank != nil))
		c.startTimer(c.opts.MeasureWindow, c.finishMeasurement)
		c.setPhase(models.Measuring)
		return nil
	})
}

func (c *Controller) requireIdle(action string) error {
	switch c.phase {
	case models.Idle:
		return nil
	case models.Disconnected:
		return pkgerrors.Wrap(models.ErrNotConnected, action)
	default:
		return pkgerrors.Wrapf(models.ErrBusy, "%s while %s", action, c.phase)
	}
}

// write sends cmd; a failure drops the connection.
func (c *Controller) write(cmd string) error {
	if err := c.link.Write([]byte(cmd)); err != nil {
		if !errors.Is(err, models.ErrIO) {
			err = pkgerrors.Wrapf(models.ErrIO, "write %q: %v", strings.TrimSpace(cmd), err)
		}
		c.metrics.ConnectionError("io")
		c.logger.Error("Command write failed", zap.String("command", strings.TrimSpace(cmd)), zap.Error(err))
		c.teardown("write failure")
		c.publishError(err)
		return err
	}
	return nil
}

// teardown closes the link, cancels timers and resets the measuring window.
func (c *Controller) teardown(reason string) {
	hadLink := c.link != nil
	c.closeLink()
	c.stopTimer()
	c.window.Reset()
	if hadLink {
		c.logger.Info("Disconnected", zap.String("reason", reason), zap.String("port", c.port))
	}
	c.setPhase(models.Disconnected)
	c.session = ""
}

func (c *Controller) closeLink() {
	if c.link == nil {
		return
	}
	// Invalidate anything the old pump still has in flight.
	c.linkGen++
	if err := c.link.Close(); err != nil {
		c.logger.Warn("Link close failed", zap.Error(err))
	}
	c.link = nil
}

func (c *Controller) startTimer(d time.Duration, fire func()) {
	c.stopTimer()
	gen := c.timerGen
	c.timer = time.AfterFunc(d, func() {
		c.post(func() {
			if gen != c.timerGen {
				c.logger.Debug("Ignoring stale timer", zap.Uint64("generation", gen))
				return
			}
			c.timer = nil
			fire()
		})
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller) finishCalibration() {
	if c.phase != models.Calibrating {
		return
	}
	c.setPhase(models.Idle)
	if c.blank == nil {
		c.metrics.CalibrationIncomplete()
		c.logger.Warn("Calibration window closed without a blank voltage")
		c.publishWarning(models.ErrCalibrationIncomplete)
		return
	}
	c.logger.Info("Calibration finished", zap.Float64("blank_voltage", *c.blank))
}

func (c *Controller) finishMeasurement() {
	if c.phase != models.Measuring {
		return
	}
	c.logger.Info("Measurement finished",
		zap.Int("samples", c.window.Len()),
		zap.Float64("absorbance", c.snapshot.Absorbance),
		zap.Float64("transmittance", c.snapshot.Transmittance))
	c.setPhase(models.Idle)
}

// pump parses the lines of one link and forwards readings in wire order.
func (c *Controller) pump(gen uint64, port string, link Link) {
	for raw := range link.Lines() {
		c.metrics.LineReceived()
		r, ok, err := protocol.ParseBytes(raw)
		if err != nil {
			c.metrics.ParseWarning()
			c.logger.Warn("Dropping telemetry line", zap.ByteString("line", raw), zap.Error(err))
			c.trace(port, raw, err)
			continue
		}
		if !ok {
			c.logger.Debug("Ignoring telemetry line", zap.ByteString("line", raw))
			if len(bytes.TrimSpace(raw)) > 0 {
				c.trace(port, raw, nil)
			}
			continue
		}
		c.post(func() { c.handleReading(gen, r) })
	}
	c.post(func() { c.linkEnded(gen, link) })
}

func (c *Controller) trace(port string, raw []byte, err error) {
	if c.opts.Tracer != nil {
		c.opts.Tracer.TraceLine(port, raw, err)
	}
}

func (c *Controller) handleReading(gen uint64, r models.Reading) {
	if gen != c.linkGen {
		return
	}
	c.metrics.Reading(r.Kind.String(), r.Voltage)

	switch {
	case r.Kind == models.ReadingBlank && c.phase == models.Calibrating:
		v := r.Voltage
		c.blank = &v
		c.snapshot = models.BaselineSnapshot(v, time.Now())
		c.metrics.SetOptics(c.snapshot.Absorbance, c.snapshot.Transmittance)
		c.logger.Info("Blank voltage stored", zap.Float64("voltage", v))
		c.publishSnapshot()

	case r.Kind == models.ReadingSample && c.phase == models.Measuring:
		c.window.Add(r.Voltage)
		snap := c.snapshot
		snap.Voltage = r.Voltage
		snap.Samples = c.window.Len()
		snap.MeanVoltage = c.window.Mean()
		snap.StdDevVoltage = c.window.StdDev()
		snap.UpdatedAt = time.Now()
		if c.blank != nil {
			res := optics.Compute(*c.blank, r.Voltage, c.opts.DarkVoltage)
			snap.Absorbance = res.Absorbance
			snap.Transmittance = res.Transmittance
			snap.HasOptics = true
			c.metrics.SetOptics(res.Absorbance, res.Transmittance)
		} else {
			snap.HasOptics = false
		}
		c.snapshot = snap
		c.logger.Debug("Sample voltage",
			zap.Float64("voltage", r.Voltage),
			zap.Bool("has_optics", snap.HasOptics),
			zap.Float64("absorbance", snap.Absorbance))
		c.publishSnapshot()

	default:
		c.logger.Debug("Reading outside its phase dropped",
			zap.Stringer("kind", r.Kind),
			zap.Stringer("phase", c.phase),
			zap.Float64("voltage", r.Voltage))
	}
}

// linkEnded tears down a link whose read loop has exited. Lost is only read
// here, on the loop, so the I/O cause is reported whichever of the pump or
// the liveness check notices first.
func (c *Controller) linkEnded(gen uint64, link Link) {
	if gen != c.linkGen || link != c.link {
		return
	}
	var err error
	select {
	case err = <-link.Lost():
	default:
	}
	if err != nil {
		c.metrics.ConnectionError("lost")
		c.logger.Error("Connection lost", zap.String("port", c.port), zap.Error(err))
		c.teardown("connection lost")
		c.publishError(err)
		return
	}
	c.logger.Warn("Serial link stopped", zap.String("port", c.port))
	c.teardown("link stopped")
	c.publishError(pkgerrors.Wrapf(models.ErrConnectionLost, "%s stopped", c.port))
}

// checkLink catches a link whose read loop ended before the pump reported
// it, such as one closed by its context.
func (c *Controller) checkLink() {
	if c.link == nil {
		return
	}
	d, ok := c.link.(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}
	select {
	case <-d.Done():
		c.linkEnded(c.linkGen, c.link)
	default:
	}
}
