// Command intellispec drives the Intellispec photometer over a serial port.
//
// Subcommands:
//
//	serve    HTTP API + WebSocket stream (+ optional web UI)
//	console  single-key terminal front end
//	ports    list serial ports
//	config   write or print the configuration
//
// Settings come from a YAML file (--config, default ./intellispec.yaml),
// INTELLISPEC_* environment variables and built-in defaults.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CK6170/Intellispec-go/acquisition"
	"github.com/CK6170/Intellispec-go/config"
	"github.com/CK6170/Intellispec-go/file"
	"github.com/CK6170/Intellispec-go/internal/logging"
	"github.com/CK6170/Intellispec-go/internal/metrics"
	"github.com/CK6170/Intellispec-go/models"
)

var (
	gAcquisition  = "Acquisition:"
	gSetup        = "Setup:"
	commandGroups = []string{
		gAcquisition,
		gSetup,
	}
)

// app carries the global flags and what they resolve to.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

// setup loads the configuration and builds the logger. Log output goes to
// logPaths when given, stderr otherwise.
func (a *app) setup(logPaths ...string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logger, err := logging.New(level, cfg.Log.Development, logPaths...)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.logger.Debug("Config loaded",
		zap.String("path", a.configPath),
		zap.String("port", cfg.Serial.PORT),
		zap.Int("baud", cfg.Serial.BAUDRATE))
	return nil
}

func (a *app) newController(m *metrics.Metrics) *acquisition.Controller {
	opts := a.cfg.AcquisitionOptions()
	opts.Logger = a.logger.Named("acquisition")
	opts.Metrics = m
	opts.Dialer = acquisition.SerialDialer(a.logger.Named("serial"))
	if path := a.cfg.Acquisition.Trace; path != "" {
		opts.Tracer = file.NewTrace(path, a.logger.Named("trace"))
		a.logger.Info("Tracing unusable telemetry", zap.String("path", path))
	}
	return acquisition.New(opts)
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, models.ErrConnection):
		fmt.Fprintln(os.Stderr, "\nError: the serial port could not be opened")
		fmt.Fprintln(os.Stderr, "  - Check the port name with 'intellispec ports'")
		fmt.Fprintln(os.Stderr, "  - Make sure no other program holds the port")
	case errors.Is(err, models.ErrIO):
		fmt.Fprintln(os.Stderr, "\nError: the instrument stopped responding")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "intellispec",
		Short: "intellispec runs calibration and absorbance measurements on the Intellispec photometer",
		Long: `intellispec runs calibration and absorbance measurements on the Intellispec photometer.

The instrument is driven over a serial line: "calibrate" records the blank
voltage, "read" streams sample voltages that are converted to absorbance and
transmittance.`,
		SilenceUsage: true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&a.logLevel, "log-level", "l", "", "log level (debug, info, warn, error); overrides log.level")
	globalFlags.StringVar(&a.configPath, "config", "", "config file path (default ./"+config.DefaultFile+")")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewServeCommand(a),
		NewConsoleCommand(a),
		NewPortsCommand(a),
		NewConfigCommand(a),
	)

	return cmd
}
